package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
)

func benchRecords(n int) []apptype.RawEntity {
	out := make([]apptype.RawEntity, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, apptype.NewRawEntity(
			"type", "Shot",
			"id", int64(i+1),
			"code", fmt.Sprintf("SH_%04d", i),
			"sg_status_list", []string{"ip", "fin", "wtg"}[i%3],
			"created_by", person(int64(i%20), fmt.Sprintf("user-%d", i%20)),
			"created_by.HumanUser.login", fmt.Sprintf("u%d", i%20),
			"assets", []any{
				apptype.NewRawEntity("type", "Asset", "id", int64(i%50), "name", "asset"),
				apptype.NewRawEntity("type", "Asset", "id", int64(i%50+1), "name", "asset"),
			},
		))
	}
	return out
}

func BenchmarkConform(b *testing.B) {
	records := benchRecords(1000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g := New()
		for _, r := range records {
			if err := g.Conform(r); err != nil {
				b.Fatal(err)
			}
		}
	}
}

func BenchmarkAssemble(b *testing.B) {
	records := benchRecords(1000)
	opts := Options{EntityType: "Shot", Fields: []string{"code"}, GroupField: "sg_status_list"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Assemble(context.Background(), records, opts, nil); err != nil {
			b.Fatal(err)
		}
	}
}
