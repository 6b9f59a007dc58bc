package util

import "testing"

func TestTruncateString_Short(t *testing.T) {
	result := TruncateString("hello", 10)
	if result != "hello" {
		t.Errorf("Expected 'hello', got '%s'", result)
	}
}

func TestTruncateString_ExactLength(t *testing.T) {
	result := TruncateString("hello", 5)
	if result != "hello" {
		t.Errorf("Expected 'hello', got '%s'", result)
	}
}

func TestTruncateString_Long(t *testing.T) {
	result := TruncateString("hello world", 5)
	expected := "hello..."
	if result != expected {
		t.Errorf("Expected '%s', got '%s'", expected, result)
	}
}

func TestTruncateString_MultiByte(t *testing.T) {
	// Each rune is multi-byte; a byte-based cut would split characters
	result := TruncateString("héllo wörld", 5)
	expected := "héllo..."
	if result != expected {
		t.Errorf("Expected '%s', got '%s'", expected, result)
	}
}

func TestTruncateString_Empty(t *testing.T) {
	result := TruncateString("", 5)
	if result != "" {
		t.Errorf("Expected empty string, got '%s'", result)
	}
}
