package modem

import (
	"context"
	"sort"
	"sync"

	"github.com/linux-mobile-broadband/modemd/core"
	"github.com/linux-mobile-broadband/modemd/sms"
)

// Storage names a message memory on the modem.
type Storage string

// The storages the broker manages.
const (
	StorageSIM Storage = "sm"
	StorageME  Storage = "me"
)

// PartState is the stored state of one SMS part.
type PartState int

// The part states.
const (
	PartUnknown PartState = iota
	PartReceived
	PartStoredSent
	PartStoredUnsent
)

func (s PartState) String() string {
	switch s {
	case PartReceived:
		return "received"
	case PartStoredSent:
		return "stored-sent"
	case PartStoredUnsent:
		return "stored-unsent"
	default:
		return "unknown"
	}
}

// Part is one PDU slot in a storage.
type Part struct {
	Storage Storage
	Index   int
	State   PartState
	PDU     []byte
	Fields  *sms.Deliver
}

// Message is a logical SMS: one part, or a concatenation assembled from
// several parts with the same reference.
type Message struct {
	Number    string
	Timestamp string
	Text      string
	Parts     []*Part
	Complete  bool
}

type concatKey struct {
	number    string
	reference int
	total     int
}

// SMSStore indexes the parts of every storage and assembles multi-part
// messages by their concatenation reference.
type SMSStore struct {
	m *Modem

	mu    sync.Mutex
	parts map[Storage]map[int]*Part
}

func newSMSStore(m *Modem) *SMSStore {
	return &SMSStore{
		m:     m,
		parts: make(map[Storage]map[int]*Part),
	}
}

// refresh lists every supported storage and reads each part's PDU.
func (s *SMSStore) refresh(ctx context.Context) error {
	helper := s.m.helper()
	for _, storage := range helper.smsStorages() {
		listing, err := helper.smsListParts(ctx, storage)
		if err != nil {
			if core.Is(err, core.KindUnsupported) {
				continue
			}
			return err
		}
		for index, state := range listing {
			pdu, err := helper.smsReadPart(ctx, storage, index)
			if err != nil {
				s.m.log.Warn().Err(err).Int("index", index).Msg("part read failed")
				continue
			}
			s.addPart(storage, index, state, pdu)
		}
	}
	return nil
}

func (s *SMSStore) addPart(storage Storage, index int, state PartState, pdu []byte) *Part {
	part := &Part{Storage: storage, Index: index, State: state, PDU: pdu}
	if fields, err := sms.DecodeDeliver(pdu); err == nil {
		part.Fields = fields
	}
	s.mu.Lock()
	if s.parts[storage] == nil {
		s.parts[storage] = make(map[int]*Part)
	}
	s.parts[storage][index] = part
	s.mu.Unlock()
	return part
}

// notifyNewPart reacts to a new-message indication: read the indicated
// index and publish the part.
func (s *SMSStore) notifyNewPart(storage Storage, index int) {
	go s.m.ops.Run(context.Background(), "sms-receive", func(ctx context.Context) (interface{}, error) {
		pdu, err := s.m.helper().smsReadPart(ctx, storage, index)
		if err != nil {
			return nil, err
		}
		part := s.addPart(storage, index, PartReceived, pdu)
		s.m.notify("sms", "Received", part)
		return part, nil
	})
}

// List returns every known part, ordered by storage and index.
func (s *SMSStore) List() []*Part {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Part
	for _, indexed := range s.parts {
		for _, part := range indexed {
			out = append(out, part)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Storage != out[j].Storage {
			return out[i].Storage < out[j].Storage
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// Messages assembles the logical view: single parts as-is, concatenated
// parts matched on (number, reference, total) and ordered by sequence. A
// message is complete when every sequence number is present.
func (s *SMSStore) Messages() []*Message {
	parts := s.List()

	var out []*Message
	groups := make(map[concatKey][]*Part)
	for _, part := range parts {
		if part.Fields == nil {
			continue
		}
		if c := part.Fields.Concat; c != nil {
			key := concatKey{number: part.Fields.Number, reference: c.Reference, total: c.Total}
			groups[key] = append(groups[key], part)
			continue
		}
		out = append(out, &Message{
			Number:    part.Fields.Number,
			Timestamp: part.Fields.Timestamp,
			Text:      part.Fields.Text,
			Parts:     []*Part{part},
			Complete:  true,
		})
	}

	for key, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			return group[i].Fields.Concat.Sequence < group[j].Fields.Concat.Sequence
		})
		msg := &Message{
			Number: key.number,
			Parts:  group,
		}
		seen := make(map[int]bool)
		for _, part := range group {
			seen[part.Fields.Concat.Sequence] = true
			msg.Text += part.Fields.Text
			msg.Timestamp = part.Fields.Timestamp
		}
		msg.Complete = len(seen) == key.total
		out = append(out, msg)
	}
	return out
}

// Delete removes the part at index from storage, on the modem and then
// locally.
func (s *SMSStore) Delete(ctx context.Context, storage Storage, index int) error {
	_, err := s.m.ops.Run(ctx, "sms-delete", func(ctx context.Context) (interface{}, error) {
		if err := s.m.helper().smsDeletePart(ctx, storage, index); err != nil {
			return nil, err
		}
		s.mu.Lock()
		// The nil check must run before the index lookup.
		if indexed := s.parts[storage]; indexed != nil {
			delete(indexed, index)
		}
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

// Store writes a raw PDU into storage and records the assigned index.
func (s *SMSStore) Store(ctx context.Context, storage Storage, pdu []byte) (int, error) {
	value, err := s.m.ops.Run(ctx, "sms-store", func(ctx context.Context) (interface{}, error) {
		index, err := s.m.helper().smsStorePart(ctx, storage, pdu)
		if err != nil {
			return nil, err
		}
		s.addPart(storage, index, PartStoredUnsent, pdu)
		return index, nil
	})
	if err != nil {
		return 0, err
	}
	return value.(int), nil
}

// Send encodes text as a submit PDU and hands it to the modem.
func (s *SMSStore) Send(ctx context.Context, number, text, smsc string, validity, class int) error {
	pdu, msgStart, err := sms.EncodeSubmit(number, text, smsc, validity, class)
	if err != nil {
		return core.New(core.KindInvalidArgument, err.Error())
	}
	return s.SendPDU(ctx, pdu, msgStart)
}

// SendPDU hands an already-encoded submit PDU to the modem. msgStart is
// the offset of the first TPDU octet.
func (s *SMSStore) SendPDU(ctx context.Context, pdu []byte, msgStart int) error {
	_, err := s.m.ops.Run(ctx, "sms-send", func(ctx context.Context) (interface{}, error) {
		if !s.m.State().atLeastEnabled() {
			return nil, core.Newf(core.KindWrongState, "cannot send in state %s", s.m.State())
		}
		return nil, s.m.helper().smsSendPDU(ctx, len(pdu)-msgStart, pdu)
	})
	return err
}
