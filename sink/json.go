package sink

import (
	"io"
	"sync"

	pnet "github.com/jinmuyano/procnet"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONLines writes every report as one JSON document per line.
type JSONLines struct {
	mu  sync.Mutex
	enc *jsoniter.Encoder
}

func NewJSONLines(out io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(out)}
}

func (j *JSONLines) Emit(r pnet.Report) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.enc.Encode(r)
}
