//go:build bench
// +build bench

package store

import (
	"testing"
)

func BenchmarkBuild(b *testing.B) {
	entries := []Entry{
		{Key: "fmna/provisioning/998", Value: testUUID(), MaxLen: 16},
		{Key: "fmna/provisioning/999", Value: testToken(1024), MaxLen: 1024},
		{Key: "fmna/provisioning/997", Value: testUUID(), MaxLen: 16},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Build(testBase, 0x2000, entries); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFind(b *testing.B) {
	img, err := Build(testBase, 0x2000, []Entry{
		{Key: "fmna/provisioning/998", Value: testUUID()},
		{Key: "fmna/provisioning/999", Value: testToken(1024)},
	})
	if err != nil {
		b.Fatal(err)
	}
	blob := region(img)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Find(blob, testBase, "fmna/provisioning/999", 1024); err != nil {
			b.Fatal(err)
		}
	}
}
