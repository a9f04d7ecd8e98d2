package queue

import (
	"github.com/vnykmshr/filequeue/internal/format"
	"github.com/vnykmshr/filequeue/internal/logging"
)

// storedPayload returns the bytes to write for payload and the codec they
// are encoded with. Payloads below MinCompressionSize, and payloads the
// codec shrinks by less than 5%, are stored raw.
func (q *Queue) storedPayload(payload []byte) ([]byte, format.CompressionType, error) {
	codec := q.opts.Compression
	if codec == format.CompressionNone || len(payload) < q.opts.MinCompressionSize {
		return payload, format.CompressionNone, nil
	}

	packed, err := format.CompressPayload(payload, codec, q.opts.CompressionLevel)
	if err != nil {
		return nil, format.CompressionNone, err
	}

	if !format.ShouldCompress(len(payload), len(packed), q.opts.MinCompressionSize) {
		q.opts.Logger.Debug("storing payload raw",
			logging.F("codec", codec.String()),
			logging.F("size", len(payload)),
			logging.F("packed_size", len(packed)),
		)
		return payload, format.CompressionNone, nil
	}

	return packed, codec, nil
}

// decodePayload returns the caller-visible payload of a stored record.
func decodePayload(rec *format.Record) ([]byte, error) {
	if rec.Compression == format.CompressionNone {
		return rec.Payload, nil
	}
	return format.DecompressPayload(rec.Payload, rec.Compression)
}
