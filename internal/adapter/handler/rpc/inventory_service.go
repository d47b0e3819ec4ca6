package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	InventoryServiceName                 = "inventory.v1.InventoryService"
	inventoryServiceReadStock            = "/" + InventoryServiceName + "/ReadStock"
	inventoryServiceConditionalDecrement = "/" + InventoryServiceName + "/ConditionalDecrement"
	inventoryServiceRestore              = "/" + InventoryServiceName + "/Restore"
	inventoryServicePutItem              = "/" + InventoryServiceName + "/PutItem"
)

type InventoryServiceServer interface {
	ReadStock(context.Context, *ReadStockRequest) (*StockItem, error)
	ConditionalDecrement(context.Context, *DecrementRequest) (*DecrementResponse, error)
	Restore(context.Context, *RestoreRequest) (*RestoreResponse, error)
	PutItem(context.Context, *PutItemRequest) (*StockItem, error)
}

type UnimplementedInventoryServiceServer struct{}

func (UnimplementedInventoryServiceServer) ReadStock(context.Context, *ReadStockRequest) (*StockItem, error) {
	return nil, status.Error(codes.Unimplemented, "method ReadStock not implemented")
}

func (UnimplementedInventoryServiceServer) ConditionalDecrement(context.Context, *DecrementRequest) (*DecrementResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ConditionalDecrement not implemented")
}

func (UnimplementedInventoryServiceServer) Restore(context.Context, *RestoreRequest) (*RestoreResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Restore not implemented")
}

func (UnimplementedInventoryServiceServer) PutItem(context.Context, *PutItemRequest) (*StockItem, error) {
	return nil, status.Error(codes.Unimplemented, "method PutItem not implemented")
}

func RegisterInventoryServiceServer(s grpc.ServiceRegistrar, srv InventoryServiceServer) {
	s.RegisterService(&InventoryServiceDesc, srv)
}

var InventoryServiceDesc = grpc.ServiceDesc{
	ServiceName: InventoryServiceName,
	HandlerType: (*InventoryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReadStock", Handler: unary(inventoryServiceReadStock, func(srv InventoryServiceServer, ctx context.Context, in *ReadStockRequest) (interface{}, error) {
			return srv.ReadStock(ctx, in)
		})},
		{MethodName: "ConditionalDecrement", Handler: unary(inventoryServiceConditionalDecrement, func(srv InventoryServiceServer, ctx context.Context, in *DecrementRequest) (interface{}, error) {
			return srv.ConditionalDecrement(ctx, in)
		})},
		{MethodName: "Restore", Handler: unary(inventoryServiceRestore, func(srv InventoryServiceServer, ctx context.Context, in *RestoreRequest) (interface{}, error) {
			return srv.Restore(ctx, in)
		})},
		{MethodName: "PutItem", Handler: unary(inventoryServicePutItem, func(srv InventoryServiceServer, ctx context.Context, in *PutItemRequest) (interface{}, error) {
			return srv.PutItem(ctx, in)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inventory/v1/inventory_service",
}

// unary adapts a typed inventory method to a grpc.MethodHandler.
func unary[Req any](fullMethod string, call func(InventoryServiceServer, context.Context, *Req) (interface{}, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InventoryServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(InventoryServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type InventoryServiceClient interface {
	ReadStock(ctx context.Context, in *ReadStockRequest, opts ...grpc.CallOption) (*StockItem, error)
	ConditionalDecrement(ctx context.Context, in *DecrementRequest, opts ...grpc.CallOption) (*DecrementResponse, error)
	Restore(ctx context.Context, in *RestoreRequest, opts ...grpc.CallOption) (*RestoreResponse, error)
	PutItem(ctx context.Context, in *PutItemRequest, opts ...grpc.CallOption) (*StockItem, error)
}

type inventoryServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewInventoryServiceClient(cc grpc.ClientConnInterface) InventoryServiceClient {
	return &inventoryServiceClient{cc: cc}
}

func (c *inventoryServiceClient) ReadStock(ctx context.Context, in *ReadStockRequest, opts ...grpc.CallOption) (*StockItem, error) {
	out := new(StockItem)
	if err := c.cc.Invoke(ctx, inventoryServiceReadStock, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *inventoryServiceClient) ConditionalDecrement(ctx context.Context, in *DecrementRequest, opts ...grpc.CallOption) (*DecrementResponse, error) {
	out := new(DecrementResponse)
	if err := c.cc.Invoke(ctx, inventoryServiceConditionalDecrement, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *inventoryServiceClient) Restore(ctx context.Context, in *RestoreRequest, opts ...grpc.CallOption) (*RestoreResponse, error) {
	out := new(RestoreResponse)
	if err := c.cc.Invoke(ctx, inventoryServiceRestore, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *inventoryServiceClient) PutItem(ctx context.Context, in *PutItemRequest, opts ...grpc.CallOption) (*StockItem, error) {
	out := new(StockItem)
	if err := c.cc.Invoke(ctx, inventoryServicePutItem, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
