package events

import (
	"bytes"
	"sync"

	"security-monitor/internal/domain"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

var gzipPool = sync.Pool{
	New: func() any {
		w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
		return w
	},
}

// EncodeJSONLGZ serializa o lote como JSON Lines comprimido com gzip.
// O slice retornado pertence ao chamador.
func EncodeJSONLGZ(events []domain.SecurityEvent) ([]byte, error) {
	var buf bytes.Buffer

	gz := gzipPool.Get().(*gzip.Writer)
	defer gzipPool.Put(gz)
	gz.Reset(&buf)

	enc := json.NewEncoder(gz)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			_ = gz.Close()
			return nil, err
		}
	}

	if err := gz.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodeJSONLGZ lê de volta um lote gravado por EncodeJSONLGZ
func DecodeJSONLGZ(data []byte) ([]domain.SecurityEvent, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var events []domain.SecurityEvent
	dec := json.NewDecoder(gz)
	for dec.More() {
		var event domain.SecurityEvent
		if err := dec.Decode(&event); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
