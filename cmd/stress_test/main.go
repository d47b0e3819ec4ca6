package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-reservation/internal/adapter/handler/rpc"
)

type stockItem struct {
	Available int64 `json:"available"`
	Version   int64 `json:"version"`
}

func main() {
	grpcAddr := flag.String("grpc", "localhost:50051", "order service gRPC address")
	httpAddr := flag.String("http", "http://localhost:8080", "order service HTTP address")
	itemID := flag.String("item", "flash-sale-item", "item to order")
	initialStock := flag.Int64("stock", 20, "stock to set before the run")
	totalRequests := flag.Int("requests", 50, "number of distinct orders")
	replays := flag.Int("replays", 2, "extra sends of each order id")
	flag.Parse()

	ctx := context.Background()

	if err := putStock(*httpAddr, *itemID, *initialStock); err != nil {
		log.Fatalf("failed to set stock: %v", err)
	}

	conn, err := grpc.NewClient(*grpcAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(rpc.CallOption()),
	)
	if err != nil {
		log.Fatalf("failed to dial order service: %v", err)
	}
	defer conn.Close()
	client := rpc.NewOrderServiceClient(conn)

	run := uuid.NewString()[:8]
	var committed, rejected, compensated, inProgress, failed atomic.Int64

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		for r := 0; r <= *replays; r++ {
			wg.Add(1)
			go func(i, r int) {
				defer wg.Done()

				resp, err := client.PlaceOrder(ctx, &rpc.PlaceOrderRequest{
					OrderID:  fmt.Sprintf("stress-%s-%d", run, i),
					ItemID:   *itemID,
					Quantity: 1,
				})
				if r > 0 {
					return
				}
				switch {
				case status.Code(err) == codes.Aborted:
					inProgress.Add(1)
				case err != nil:
					failed.Add(1)
					log.Printf("order %d: %v", i, err)
				case resp.Status == "committed":
					committed.Add(1)
				case resp.Status == "compensated":
					compensated.Add(1)
				default:
					rejected.Add(1)
				}
			}(i, r)
		}
	}

	wg.Wait()
	elapsed := time.Since(start)

	final, err := getStock(*httpAddr, *itemID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Distinct Orders:  %d (x%d sends)\n", *totalRequests, *replays+1)
	fmt.Printf("Committed:        %d\n", committed.Load())
	fmt.Printf("Rejected:         %d\n", rejected.Load())
	fmt.Printf("Compensated:      %d\n", compensated.Load())
	fmt.Printf("In Progress:      %d\n", inProgress.Load())
	fmt.Printf("Errors:           %d\n", failed.Load())
	fmt.Printf("Final Stock:      %d (version %d)\n", final.Available, final.Version)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	ok := true
	if final.Available < 0 {
		fmt.Printf("FAIL: stock went negative: %d\n", final.Available)
		ok = false
	}
	if inProgress.Load() == 0 && *initialStock-committed.Load() != final.Available {
		fmt.Printf("FAIL: conservation broken: %d - %d committed != %d\n", *initialStock, committed.Load(), final.Available)
		ok = false
	}
	expected := min(*initialStock, int64(*totalRequests))
	if committed.Load() > expected {
		fmt.Printf("FAIL: oversold: %d committed, at most %d possible\n", committed.Load(), expected)
		ok = false
	}
	if !ok {
		os.Exit(1)
	}
	fmt.Printf("PASS: %d committed, stock conserved\n", committed.Load())
}

func putStock(baseURL, itemID string, available int64) error {
	body, _ := json.Marshal(map[string]int64{"available": available})
	req, err := http.NewRequest(http.MethodPut, baseURL+"/api/items/"+itemID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("put stock: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func getStock(baseURL, itemID string) (stockItem, error) {
	var item stockItem
	resp, err := http.Get(baseURL + "/api/items/" + itemID)
	if err != nil {
		return item, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return item, fmt.Errorf("get stock: unexpected status %d", resp.StatusCode)
	}
	return item, json.NewDecoder(resp.Body).Decode(&item)
}
