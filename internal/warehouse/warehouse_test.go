package warehouse

import (
	"reflect"
	"sort"
	"testing"

	"github.com/wessleyai/otelwarehouse/internal/model"
)

func TestChunk_ContiguousWithPartialTail(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}
	got := chunk(items, 3)
	want := [][]int{{1, 2, 3}, {4, 5, 6}, {7}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestChunk_ZeroSizeMeansSingleChunk(t *testing.T) {
	items := []int{1, 2, 3}
	got := chunk(items, 0)
	if len(got) != 1 || len(got[0]) != 3 {
		t.Fatalf("expected one chunk of 3, got %v", got)
	}
}

func TestChunk_Empty(t *testing.T) {
	var items []int
	if got := chunk(items, 10); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestKVMapRoundTrip(t *testing.T) {
	kvs := []model.KV{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}
	m := kvMap(kvs)
	back := mapToKV(m)
	sort.Slice(back, func(i, j int) bool { return back[i].Key < back[j].Key })
	if !reflect.DeepEqual(back, kvs) {
		t.Fatalf("got %v want %v", back, kvs)
	}
}

func TestKVArrays_PreservesOrder(t *testing.T) {
	kvs := []model.KV{{Key: "z", Value: "1"}, {Key: "a", Value: "2"}, {Key: "m", Value: "3"}}
	keys, values := kvArrays(kvs)
	back, err := arraysToKV(keys, values)
	if err != nil {
		t.Fatalf("arraysToKV: %v", err)
	}
	if !reflect.DeepEqual(back, kvs) {
		t.Fatalf("got %v want %v (order must be preserved, unlike kvMap/mapToKV)", back, kvs)
	}
}

func TestKVArrays_EmptyRoundTripsToNil(t *testing.T) {
	keys, values := kvArrays(nil)
	back, err := arraysToKV(keys, values)
	if err != nil {
		t.Fatalf("arraysToKV: %v", err)
	}
	if back != nil {
		t.Fatalf("expected nil, got %v", back)
	}
}

func TestArraysToKV_MismatchedLengthsIsAnError(t *testing.T) {
	if _, err := arraysToKV([]string{"a", "b"}, []string{"1"}); err == nil {
		t.Fatal("expected an error for mismatched key/value array lengths")
	}
}

func TestWatermarkTable(t *testing.T) {
	cases := map[model.SignalType]string{
		model.SignalTraces:  "loader_file_watermark",
		model.SignalLogs:    "log_loader_file_watermark",
		model.SignalMetrics: "metric_loader_file_watermark",
	}
	for signal, want := range cases {
		if got := watermarkTable(signal); got != want {
			t.Fatalf("signal %s: got %s want %s", signal, got, want)
		}
	}
}
