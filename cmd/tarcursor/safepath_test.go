package main

import "testing"

func TestSafeJoinRejectsTraversal(t *testing.T) {
	if _, err := safeJoin("/out", "../escape.txt"); err == nil {
		t.Error("expected traversal to be rejected")
	}
	if _, err := safeJoin("/out", "a/../../escape.txt"); err == nil {
		t.Error("expected traversal to be rejected")
	}
}

func TestSafeJoinAllowsNormalPaths(t *testing.T) {
	got, err := safeJoin("/out", "dir/file.txt")
	if err != nil {
		t.Fatal(err)
	}
	want := "/out/dir/file.txt"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
