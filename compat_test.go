package main

import (
	"context"
	"os"
	"testing"
)

// testContext mirrors testing.T.Context (Go 1.24+): a context that is
// cancelled just before the test's Cleanup functions run.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// testChdir mirrors testing.T.Chdir (Go 1.24+): it changes the working
// directory for the duration of the test and restores it afterwards.
func testChdir(t *testing.T, dir string) {
	t.Helper()
	oldwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(oldwd); err != nil {
			t.Fatal(err)
		}
	})
}
