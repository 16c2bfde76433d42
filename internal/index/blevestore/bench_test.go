package blevestore

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index"
)

func openBench(b *testing.B) *Store {
	b.Helper()
	s, err := Open("")
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { s.Close() })
	return s
}

func seedBench(b *testing.B, s *Store, n int) {
	b.Helper()
	docs := make([]index.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, index.Document{
			Title:  fmt.Sprintf("pipeline note %d", i),
			Text:   "queue consumers index content for search and listing",
			Author: "bench",
			Date:   day(1 + i%28),
			User:   "bench",
			Seq:    int64(i),
		})
	}
	if err := s.Bulk(context.Background(), docs); err != nil {
		b.Fatal(err)
	}
}

// BenchmarkIndex measures single-document write throughput.
func BenchmarkIndex(b *testing.B) {
	s := openBench(b)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := s.Index(ctx, index.Document{
			Title: fmt.Sprintf("doc %d", i),
			Text:  "benchmark document body",
			Date:  day(1),
			Seq:   int64(i),
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearchTerm(b *testing.B) {
	s := openBench(b)
	seedBench(b, s, 5000)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(ctx, index.Query{Term: "pipeline", Limit: index.DefaultLimit}); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSearchParallel measures concurrent read throughput.
func BenchmarkSearchParallel(b *testing.B) {
	s := openBench(b)
	seedBench(b, s, 5000)
	start, end := day(3), day(10)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			if _, err := s.Search(ctx, index.Query{Term: "content", Start: &start, End: &end, Limit: index.DefaultLimit}); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
