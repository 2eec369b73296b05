package workerpool

import (
	"signetd/internal/hash"
	"signetd/internal/store"
	"signetd/internal/wire"
)

type action int

const (
	actionNone action = iota
	actionRespond
	actionEnqueue
	actionDisconnect
)

// dispatch implements spec.md §4.3's process_message: read a one-byte
// opcode and act on the matching read-only operation. Enqueue carries
// no reply here; the worker hands the connection off instead. Any
// malformed field results in actionDisconnect, never an error reply
// (spec.md: "defensive policy: the client is trusted only insofar as
// its framing is well-formed").
func dispatch(payload []byte, s *store.LocalStore) (action, []byte) {
	m := wire.FromBytes(payload)
	op, err := m.ReadU8()
	if err != nil {
		return actionDisconnect, nil
	}

	switch wire.Opcode(op) {
	case wire.OpSetUser:
		return dispatchSetUser(m, s)
	case wire.OpGetUser:
		return dispatchGetUser(m, s)
	case wire.OpGetObj:
		return dispatchGetObj(m, s)
	case wire.OpGetSig:
		return dispatchGetSig(m, s)
	case wire.OpEnqueue:
		return actionEnqueue, nil
	default:
		return actionDisconnect, nil
	}
}

func dispatchSetUser(m *wire.Message, s *store.LocalStore) (action, []byte) {
	pubkey, err := m.ReadBuffer()
	if err != nil {
		return actionDisconnect, nil
	}
	username, err := m.ReadBuffer()
	if err != nil {
		return actionDisconnect, nil
	}

	resp := wire.New()
	if err := s.SetUser(store.User{Username: append([]byte(nil), username...), PubKeyDER: append([]byte(nil), pubkey...)}); err != nil {
		resp.WriteI8(wire.StatusErr)
	} else {
		resp.WriteI8(wire.StatusOK)
	}
	return actionRespond, resp.Bytes()
}

func dispatchGetUser(m *wire.Message, s *store.LocalStore) (action, []byte) {
	idBytes, err := m.ReadFixed(32)
	if err != nil {
		return actionDisconnect, nil
	}
	id, _ := hash.FromBytes(idBytes)

	resp := wire.New()
	u, err := s.GetUser(id)
	if err != nil {
		resp.WriteI8(wire.StatusErr)
		return actionRespond, resp.Bytes()
	}
	if u == nil {
		resp.WriteI8(wire.StatusOK)
		return actionRespond, resp.Bytes()
	}
	resp.WriteI8(wire.StatusFound)
	resp.WriteBuffer(u.Username)
	resp.WriteBuffer(u.PubKeyDER)
	return actionRespond, resp.Bytes()
}

func dispatchGetObj(m *wire.Message, s *store.LocalStore) (action, []byte) {
	objBytes, err := m.ReadFixed(32)
	if err != nil {
		return actionDisconnect, nil
	}
	obj, _ := hash.FromBytes(objBytes)

	resp := wire.New()
	o, err := s.GetObj(obj)
	if err != nil {
		resp.WriteI8(wire.StatusErr)
		return actionRespond, resp.Bytes()
	}
	if o == nil {
		resp.WriteI8(wire.StatusOK)
		return actionRespond, resp.Bytes()
	}
	resp.WriteI8(wire.StatusFound)
	for _, id := range o.SigIDs {
		resp.WriteBuffer(id[:])
	}
	return actionRespond, resp.Bytes()
}

func dispatchGetSig(m *wire.Message, s *store.LocalStore) (action, []byte) {
	idBytes, err := m.ReadFixed(32)
	if err != nil {
		return actionDisconnect, nil
	}
	id, _ := hash.FromBytes(idBytes)

	resp := wire.New()
	sig, err := s.GetSig(id)
	if err != nil {
		resp.WriteI8(wire.StatusErr)
		return actionRespond, resp.Bytes()
	}
	if sig == nil {
		resp.WriteI8(wire.StatusOK)
		return actionRespond, resp.Bytes()
	}
	resp.WriteI8(wire.StatusFound)
	resp.WriteBuffer(sig.Obj[:])
	resp.WriteBuffer(sig.User[:])
	resp.WriteBuffer(sig.PrevSig[:])
	resp.WriteBuffer(sig.SignatureBytes)
	return actionRespond, resp.Bytes()
}
