package registry

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	remote net.Addr

	mu     sync.Mutex
	buf    bytes.Buffer
	failed bool
	closed bool
}

func newFakeConn(addr string) *fakeConn {
	tcp, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		panic(err)
	}
	return &fakeConn{remote: tcp}
}

func (c *fakeConn) Read([]byte) (int, error) { return 0, errors.New("not readable") }

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed || c.closed {
		return 0, errors.New("broken pipe")
	}
	return c.buf.Write(p)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000} }
func (c *fakeConn) RemoteAddr() net.Addr { return c.remote }
func (c *fakeConn) SetDeadline(time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func TestNewSession(t *testing.T) {
	s := NewSession(newFakeConn("127.0.0.2:40001"), "Alice", 6001)

	if s.ID != "127.0.0.2:40001" {
		t.Errorf("ID = %q", s.ID)
	}
	if s.Name != "Alice" {
		t.Errorf("Name = %q", s.Name)
	}
	if got := s.DatagramAddr.String(); got != "127.0.0.2:6001" {
		t.Errorf("DatagramAddr = %q, want 127.0.0.2:6001", got)
	}
}

func TestSession_Send(t *testing.T) {
	conn := newFakeConn("127.0.0.2:40001")
	s := NewSession(conn, "Alice", 6001)

	if err := s.Send([]byte("Bob: hi")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if conn.written() != "Bob: hi" {
		t.Errorf("written = %q", conn.written())
	}
	if s.BytesSent() != 7 {
		t.Errorf("BytesSent() = %d, want 7", s.BytesSent())
	}

	conn.failed = true
	if err := s.Send([]byte("x")); err == nil {
		t.Error("Send() on failed conn should error")
	}
}

func TestRegistry_AddRemove(t *testing.T) {
	r := New()
	a := NewSession(newFakeConn("127.0.0.2:40001"), "Alice", 6001)
	b := NewSession(newFakeConn("127.0.0.3:40002"), "Bob", 6002)

	if !r.Add(a) || !r.Add(b) {
		t.Fatal("Add() returned false for new sessions")
	}
	if r.Add(a) {
		t.Error("Add() accepted a duplicate identity")
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}

	removed, ok := r.Remove(a.ID)
	if !ok || removed != a {
		t.Fatalf("Remove() = %v, %v", removed, ok)
	}
	if _, ok := r.Remove(a.ID); ok {
		t.Error("second Remove() reported success")
	}

	sessions := r.SnapshotSessions()
	endpoints := r.SnapshotEndpoints()
	if len(sessions) != 1 || sessions[0] != b {
		t.Errorf("SnapshotSessions() = %v", sessions)
	}
	if len(endpoints) != 1 || endpoints[0].String() != "127.0.0.3:6002" {
		t.Errorf("SnapshotEndpoints() = %v", endpoints)
	}
}

func TestRegistry_SnapshotOrder(t *testing.T) {
	r := New()
	var ids []string
	for i := 0; i < 5; i++ {
		s := NewSession(newFakeConn(fmt.Sprintf("127.0.0.%d:4000%d", i+2, i)), fmt.Sprintf("p%d", i), 6000+i)
		r.Add(s)
		ids = append(ids, s.ID)
	}
	r.Remove(ids[2])

	want := []string{ids[0], ids[1], ids[3], ids[4]}
	got := r.SnapshotSessions()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("snapshot[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}
}

func TestRegistry_SnapshotsAreCopies(t *testing.T) {
	r := New()
	a := NewSession(newFakeConn("127.0.0.2:40001"), "Alice", 6001)
	r.Add(a)

	sessions := r.SnapshotSessions()
	sessions[0] = nil

	endpoints := r.SnapshotEndpoints()
	endpoints[0].Port = 1
	endpoints[0].IP[3] = 99

	if r.SnapshotSessions()[0] != a {
		t.Error("mutating session snapshot changed the registry")
	}
	if got := r.SnapshotEndpoints()[0].String(); got != "127.0.0.2:6001" {
		t.Errorf("mutating endpoint snapshot changed the registry: %s", got)
	}
}

func TestRegistry_ConcurrentConsistency(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := NewSession(newFakeConn(fmt.Sprintf("127.0.%d.%d:%d", i/200, i%200+1, 40000+i)), "p", 6000+i)
			r.Add(s)
			if i%2 == 0 {
				r.Remove(s.ID)
			}
		}(i)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			// Both snapshots come from one locked view each; each must be
			// internally consistent with the registry length at that moment.
			s := r.SnapshotSessions()
			for _, sess := range s {
				if sess == nil {
					t.Error("nil session in snapshot")
					return
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-done

	if r.Len() != 25 {
		t.Errorf("Len() = %d, want 25", r.Len())
	}
	if len(r.SnapshotEndpoints()) != 25 {
		t.Errorf("endpoints = %d, want 25", len(r.SnapshotEndpoints()))
	}
}
