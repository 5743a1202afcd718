package memlru

import "testing"

func BenchmarkUpdate(b *testing.B) {
	c := New[string, string]()
	defer c.Close()

	for i := 0; i < b.N; i++ {
		c.Update("key", "value")
	}
}

func BenchmarkGet(b *testing.B) {
	c := New[string, string]()
	defer c.Close()
	c.Update("key", "value")

	for i := 0; i < b.N; i++ {
		c.Get("key")
	}
}
