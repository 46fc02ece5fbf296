package comms

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lcx/comms/codec"
)

// maxFrameSize bounds a frame on both sides of the connection.
const maxFrameSize = 256 << 20

type grpcClient struct {
	conn *grpc.ClientConn
}

// DialBundleClient is the default ClientFactory: a gRPC client speaking the
// frame codec to desc.Address. The connection is established lazily.
func DialBundleClient(desc EndpointDesc) (BundleClient, error) {
	conn, err := grpc.NewClient(desc.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codec.Name),
			grpc.MaxCallSendMsgSize(maxFrameSize),
			grpc.MaxCallRecvMsgSize(maxFrameSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s (%s): %w", desc.Name, desc.Address, err)
	}
	return &grpcClient{conn: conn}, nil
}

func (c *grpcClient) Send(ctx context.Context, frame []byte) error {
	var ack codec.Ack
	return c.conn.Invoke(ctx, sendMethod, &codec.RawFrame{Data: frame}, &ack)
}

func (c *grpcClient) Close() error {
	return c.conn.Close()
}
