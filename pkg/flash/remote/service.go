// Package remote exposes a flash.Device over gRPC so a store can live on a
// device attached to another process or machine.
//
// The service is described by hand rather than generated: every call carries
// a wrapperspb.BytesValue frame whose layout is fixed below, and answers with
// either a BytesValue or emptypb.Empty.
//
//	Read     req: addr:u32 | count:u32         resp: data
//	Write    req: addr:u32 | data              resp: empty
//	Erase    req: addr:u32 | count:u32         resp: empty
//	Geometry req: empty                        resp: size:u32 | page:u32 | sector:u32
//
// All integers are little-endian.
package remote

import (
	"context"
	"encoding/binary"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "flashkv.FlashDevice"

	methodRead     = "/" + ServiceName + "/Read"
	methodWrite    = "/" + ServiceName + "/Write"
	methodErase    = "/" + ServiceName + "/Erase"
	methodGeometry = "/" + ServiceName + "/Geometry"

	rangeFrameSize    = 8
	geometryFrameSize = 12
)

var frameOrder = binary.LittleEndian

// Geometry describes the device behind a server.
type Geometry struct {
	Size       uint32
	PageSize   uint32
	SectorSize uint32
}

// DeviceServer is the server API for the FlashDevice service.
type DeviceServer interface {
	Read(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Write(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	Erase(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	Geometry(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
}

// RegisterDeviceServer registers srv with a gRPC server.
func RegisterDeviceServer(s grpc.ServiceRegistrar, srv DeviceServer) {
	s.RegisterService(&deviceServiceDesc, srv)
}

// deviceServiceDesc is written by hand; there is no .proto for the service
// since every message is a well-known wrapper type.
var deviceServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DeviceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Read", Handler: readHandler},
		{MethodName: "Write", Handler: writeHandler},
		{MethodName: "Erase", Handler: eraseHandler},
		{MethodName: "Geometry", Handler: geometryHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func readHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceServer).Read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRead}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DeviceServer).Read(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func writeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceServer).Write(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodWrite}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DeviceServer).Write(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func eraseHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceServer).Erase(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodErase}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DeviceServer).Erase(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func geometryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceServer).Geometry(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGeometry}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DeviceServer).Geometry(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func encodeRange(addr, count uint32) *wrapperspb.BytesValue {
	buf := make([]byte, rangeFrameSize)
	frameOrder.PutUint32(buf[0:4], addr)
	frameOrder.PutUint32(buf[4:8], count)
	return wrapperspb.Bytes(buf)
}

func decodeRange(frame *wrapperspb.BytesValue) (addr, count uint32, err error) {
	b := frame.GetValue()
	if len(b) != rangeFrameSize {
		return 0, 0, fmt.Errorf("range frame must be %d bytes, got %d", rangeFrameSize, len(b))
	}
	return frameOrder.Uint32(b[0:4]), frameOrder.Uint32(b[4:8]), nil
}

func encodeWrite(addr uint32, data []byte) *wrapperspb.BytesValue {
	buf := make([]byte, 4+len(data))
	frameOrder.PutUint32(buf[0:4], addr)
	copy(buf[4:], data)
	return wrapperspb.Bytes(buf)
}

func decodeWrite(frame *wrapperspb.BytesValue) (uint32, []byte, error) {
	b := frame.GetValue()
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("write frame too short: %d bytes", len(b))
	}
	return frameOrder.Uint32(b[0:4]), b[4:], nil
}

func encodeGeometry(g Geometry) *wrapperspb.BytesValue {
	buf := make([]byte, geometryFrameSize)
	frameOrder.PutUint32(buf[0:4], g.Size)
	frameOrder.PutUint32(buf[4:8], g.PageSize)
	frameOrder.PutUint32(buf[8:12], g.SectorSize)
	return wrapperspb.Bytes(buf)
}

func decodeGeometry(frame *wrapperspb.BytesValue) (Geometry, error) {
	b := frame.GetValue()
	if len(b) != geometryFrameSize {
		return Geometry{}, fmt.Errorf("geometry frame must be %d bytes, got %d", geometryFrameSize, len(b))
	}
	return Geometry{
		Size:       frameOrder.Uint32(b[0:4]),
		PageSize:   frameOrder.Uint32(b[4:8]),
		SectorSize: frameOrder.Uint32(b[8:12]),
	}, nil
}
