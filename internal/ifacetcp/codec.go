package ifacetcp

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/nicolagi/quixbyte/internal/changemap"
	"github.com/nicolagi/quixbyte/internal/master"
	"github.com/nicolagi/quixbyte/internal/qbpath"
	"github.com/nicolagi/quixbyte/internal/qbtime"
	"github.com/nicolagi/quixbyte/internal/wire"
)

// wireMessage is master.Message reshaped for serialization: Changes
// becomes a slice (qbpath.Resource is not itself a valid JSON map key,
// only its embedded Path is) and Kind is carried as a plain byte.
type wireMessage struct {
	Kind MessageKind

	Common  qbtime.Timestamp
	Changes []resourceChanges

	DeviceID qbtime.DeviceID
	Name     string

	Broadcast *wireMessage
}

// MessageKind is an alias of master.MessageKind: the wire format carries
// the in-process enum's values as they are, so renumbering that enum
// changes the wire format.
type MessageKind = master.MessageKind

type resourceChanges struct {
	Path string
	Kind qbpath.ResourceKind
	List []changemap.Change
}

func toWire(m master.Message) wireMessage {
	w := wireMessage{
		Kind:     m.Kind,
		Common:   m.Common,
		DeviceID: m.DeviceID,
		Name:     m.Name,
	}
	for resource, changes := range m.Changes {
		w.Changes = append(w.Changes, resourceChanges{
			Path: resource.Path.FSPath(),
			Kind: resource.Kind,
			List: changes,
		})
	}
	if m.Broadcast != nil {
		inner := toWire(*m.Broadcast)
		w.Broadcast = &inner
	}
	return w
}

func fromWire(w wireMessage) (master.Message, error) {
	m := master.Message{
		Kind:     w.Kind,
		Common:   w.Common,
		DeviceID: w.DeviceID,
		Name:     w.Name,
	}
	if len(w.Changes) > 0 {
		m.Changes = make(map[qbpath.Resource][]changemap.Change, len(w.Changes))
		for _, rc := range w.Changes {
			path, err := qbpath.New(rc.Path)
			if err != nil {
				return master.Message{}, fmt.Errorf("ifacetcp: decoding resource path %q: %w", rc.Path, err)
			}
			m.Changes[qbpath.Resource{Path: path, Kind: rc.Kind}] = rc.List
		}
	}
	if w.Broadcast != nil {
		inner, err := fromWire(*w.Broadcast)
		if err != nil {
			return master.Message{}, err
		}
		m.Broadcast = &inner
	}
	return m, nil
}

// encodeMessage serializes m per ct, the content type negotiated for this
// connection.
func encodeMessage(m master.Message, ct wire.ContentType) ([]byte, error) {
	w := toWire(m)
	switch ct {
	case wire.ContentJSON:
		return json.Marshal(w)
	default:
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(w); err != nil {
			return nil, fmt.Errorf("ifacetcp: encode: %w", err)
		}
		return buf.Bytes(), nil
	}
}

// decodeMessage is the inverse of encodeMessage.
func decodeMessage(payload []byte, ct wire.ContentType) (master.Message, error) {
	var w wireMessage
	switch ct {
	case wire.ContentJSON:
		if err := json.Unmarshal(payload, &w); err != nil {
			return master.Message{}, fmt.Errorf("ifacetcp: decode json: %w", err)
		}
	default:
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&w); err != nil {
			return master.Message{}, fmt.Errorf("ifacetcp: decode gob: %w", err)
		}
	}
	return fromWire(w)
}
