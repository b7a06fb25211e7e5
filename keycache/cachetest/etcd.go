// Package cachetest starts embedded etcd servers for exercising the etcd
// cache backend in tests.
package cachetest

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
	"go.uber.org/zap"
)

type EtcdServer struct {
	etcd      *embed.Etcd
	clientURL string
}

// NewEtcdServer starts a single-node embedded etcd and tears it down with the
// test.
func NewEtcdServer(t testing.TB) *EtcdServer {
	t.Helper()

	dir := t.TempDir()

	clientURL := url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("127.0.0.1:%d", freePort(t)),
	}
	peerURL := url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("127.0.0.1:%d", freePort(t)),
	}

	cfg := embed.NewConfig()
	cfg.LogLevel = "error"
	cfg.Name = "test"
	cfg.Dir = filepath.Join(dir, "data")
	cfg.ListenClientUrls = []url.URL{clientURL}
	cfg.AdvertiseClientUrls = []url.URL{clientURL}
	cfg.ListenPeerUrls = []url.URL{peerURL}
	cfg.AdvertisePeerUrls = []url.URL{peerURL}
	cfg.InitialCluster = fmt.Sprintf("test=%s", peerURL.String())

	e, err := embed.StartEtcd(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		e.Close()
	})

	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(60 * time.Second):
		e.Server.Stop()
		t.Fatal("embedded etcd took too long to start")
	}

	return &EtcdServer{
		etcd:      e,
		clientURL: clientURL.String(),
	}
}

// Client connects to the embedded server and closes the connection with the
// test.
func (s *EtcdServer) Client(t testing.TB) *clientv3.Client {
	t.Helper()

	client, err := clientv3.New(clientv3.Config{
		Logger:      zap.NewNop(),
		Endpoints:   []string{s.clientURL},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func freePort(t testing.TB) int {
	t.Helper()

	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port
}
