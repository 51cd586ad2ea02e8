package classify

import (
	"testing"
)

// BenchmarkClassify_Included benchmarks the full path of a kept message
func BenchmarkClassify_Included(b *testing.B) {
	c := newClassifier(b, Options{})
	msg := rawMessage(b,
		"X-Gmail-Labels: Category promotions,Opened",
		"From: Acme <a@acme.com>",
		"Delivered-To: target@x.com",
		"Subject: Hello",
		"Date: Mon, 01 Jan 2024 10:00:00 +0000",
	)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Classify(msg); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkClassify_Excluded benchmarks the early exit on an excluded label
func BenchmarkClassify_Excluded(b *testing.B) {
	c := newClassifier(b, Options{})
	msg := rawMessage(b,
		"X-Gmail-Labels: Important,Category updates",
		"From: Bank <alerts@bank.example>",
		"Delivered-To: target@x.com",
	)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Classify(msg); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkClassify_WithHeaderFilter benchmarks the extra regex pass over the header block
func BenchmarkClassify_WithHeaderFilter(b *testing.B) {
	c := newClassifier(b, Options{ExcludeHeader: []string{`(?m)^List-Id:.*noisy`}})
	msg := rawMessage(b,
		"X-Gmail-Labels: Category updates",
		"From: Acme <a@acme.com>",
		"Delivered-To: target@x.com",
		"List-Id: <news.acme.example>",
	)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Classify(msg); err != nil {
			b.Fatal(err)
		}
	}
}
