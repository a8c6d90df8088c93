package udpmesh

import (
	"bytes"
	"encoding/gob"
	"time"
)

// frame is one datagram on the mesh. ID dedupes flooded copies; SentAt is the
// origin's stamp, carried so every redelivery of the frame presents the same
// timestamp to subscribers.
type frame struct {
	ID      string
	Topic   string
	SentAt  time.Time
	Payload []byte
}

func encodeFrame(f frame) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFrame(data []byte) (frame, error) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var f frame
	if err := dec.Decode(&f); err != nil {
		return frame{}, err
	}
	return f, nil
}
