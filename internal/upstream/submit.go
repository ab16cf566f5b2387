package upstream

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"feeproxy/internal/codec"
	"feeproxy/internal/rpcshape"
)

// SubmitWork forwards an eth_submitWork frame to conn with id and worker
// substituted — the caller decides those values (the miner's own id/worker
// for the main leg, scheduler.FeeSubmitID plus a random worker name for
// the fee/develop legs).
func SubmitWork(conn net.Conn, c *codec.Codec, id int64, worker string, params []json.RawMessage) error {
	req := rpcshape.ClientWithWorkerName{
		ID:     rpcshape.NewID(id),
		Method: rpcshape.MethodSubmitWork,
		Params: params,
		Worker: worker,
	}
	data, err := rpcshape.Encode(req)
	if err != nil {
		return fmt.Errorf("encode submitWork: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.WriteFrame(conn, data)
}
