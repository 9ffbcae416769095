package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"proxyrotor/internal/shared/types"
	manager "proxyrotor/proxypool"
	"proxyrotor/proxypool/ledger"
	"proxyrotor/proxypool/provider"
)

func TestRefreshPool_DelistedSourceDrainsPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.txt")
	if err := os.WriteFile(path, []byte("10.0.0.1:8080\n10.0.0.2:8080\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := ledger.NewMemoryStore()
	rt := &runtime{
		cfg:   types.DefaultConfig(),
		store: store,
		mgr:   manager.New(store, manager.DefaultOptions(), manager.SystemClock(), manager.NewRand(1)),
		prov:  provider.NewFileProvider(path),
	}
	defer rt.Close()

	ctx := context.Background()
	if err := rt.refreshPool(ctx); err != nil {
		t.Fatalf("refreshPool() returned an error: %v", err)
	}
	if got := len(rt.mgr.Records()); got != 2 {
		t.Fatalf("Expected 2 pooled proxies, got %d", got)
	}

	// 供应商下架了所有代理
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := rt.refreshPool(ctx); err != nil {
		t.Fatalf("Expected an empty source to refresh cleanly, got %v", err)
	}
	if got := len(rt.mgr.Records()); got != 0 {
		t.Errorf("Expected the pool to be drained, got %d records", got)
	}

	// 读取失败时保留当前池
	if err := os.WriteFile(path, []byte("10.0.0.3:8080\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := rt.refreshPool(ctx); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := rt.refreshPool(ctx); err == nil {
		t.Error("Expected an error for a missing pool file")
	}
	if got := len(rt.mgr.Records()); got != 1 {
		t.Errorf("Expected the last good pool to be kept on a read failure, got %d records", got)
	}
}
