package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"coffee-location-dedup/internal/models"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(mr.Addr(), "", 0)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetSet_RoundTrip(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	report := models.DedupReport{RunID: "run-42"}
	report.Stats.Clusters = 3
	if err := c.Set(ctx, ReportKey("run-42"), report, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got models.DedupReport
	found, err := c.Get(ctx, ReportKey("run-42"), &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected cache hit")
	}
	if got.RunID != "run-42" || got.Stats.Clusters != 3 {
		t.Fatalf("report did not round trip: %+v", got)
	}
}

func TestGet_MissingKey(t *testing.T) {
	c := testCache(t)

	var got models.DedupReport
	found, err := c.Get(context.Background(), ReportKey("absent"), &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expected cache miss")
	}
}

func TestDel_RemovesKey(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, LatestReportKey, models.DedupReport{RunID: "run-1"}, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Del(ctx, LatestReportKey); err != nil {
		t.Fatalf("del: %v", err)
	}

	var got models.DedupReport
	found, err := c.Get(ctx, LatestReportKey, &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestSet_HonorsTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr(), "", 0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, ReportKey("run-ttl"), models.DedupReport{RunID: "run-ttl"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	var got models.DedupReport
	found, err := c.Get(ctx, ReportKey("run-ttl"), &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expected entry to expire")
	}
}
