// Package epics provides the narrow process-variable surface spec.md's
// external-collaborator list implies for the EPICS Channel Access server:
// a PV backed by a memory.BaseMaster register, and a process-local
// registry standing in for a real CA server (no verified pack or
// ecosystem Go CA server library exists to bind to the real protocol).
package epics

import (
	"sync"

	"github.com/slac-rogue/rogue"
	"github.com/slac-rogue/rogue/internal/memory"
)

// PV is a single named process variable backed by one register access
// through a memory.BaseMaster, standing in for the original's
// Variable-to-EPICS-record binding.
type PV struct {
	Name    string
	master  *memory.BaseMaster
	address uint64
	size    uint32
}

// NewPV binds name to a size-byte register at address, reached through
// master.
func NewPV(name string, master *memory.BaseMaster, address uint64, size uint32) *PV {
	return &PV{Name: name, master: master, address: address, size: size}
}

// Get issues a read Transaction and returns the register's current value.
func (p *PV) Get() ([]byte, error) {
	data := make([]byte, p.size)
	id := p.master.ReqTransaction(p.address, p.size, data, memory.TypeRead)
	if result := p.master.WaitTransaction(id); result != 0 {
		return nil, rogue.NewError("epics.PV.Get", rogue.CodeGeneral, "transaction failed")
	}
	return data, nil
}

// Put issues a write Transaction carrying value to the register.
func (p *PV) Put(value []byte) error {
	id := p.master.ReqTransaction(p.address, uint32(len(value)), value, memory.TypeWrite)
	if result := p.master.WaitTransaction(id); result != 0 {
		return rogue.NewError("epics.PV.Put", rogue.CodeGeneral, "transaction failed")
	}
	return nil
}

// Server is a process-local stand-in for a Channel Access server: a name
// to PV registry with Get/Put dispatch, used to exercise PV wiring in
// tests without a real CA network stack.
type Server struct {
	mu  sync.RWMutex
	pvs map[string]*PV
}

// NewServer builds an empty PV registry.
func NewServer() *Server {
	return &Server{pvs: make(map[string]*PV)}
}

// Add registers pv under its Name.
func (s *Server) Add(pv *PV) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pvs[pv.Name] = pv
}

// Lookup returns the PV registered under name, if any.
func (s *Server) Lookup(name string) (*PV, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pv, ok := s.pvs[name]
	return pv, ok
}

// Get looks up name and issues a Get against it.
func (s *Server) Get(name string) ([]byte, error) {
	pv, ok := s.Lookup(name)
	if !ok {
		return nil, rogue.NewError("epics.Server.Get", rogue.CodeGeneral, "unknown PV: "+name)
	}
	return pv.Get()
}

// Put looks up name and issues a Put against it.
func (s *Server) Put(name string, value []byte) error {
	pv, ok := s.Lookup(name)
	if !ok {
		return rogue.NewError("epics.Server.Put", rogue.CodeGeneral, "unknown PV: "+name)
	}
	return pv.Put(value)
}
