//go:build darwin

package config

import (
	"errors"
	"reflect"
	"testing"
)

func TestDarwinBackendCommands(t *testing.T) {
	var calls [][]string
	b := &darwinBackend{domain: "com.prefd.test", run: func(args ...string) ([]byte, error) {
		calls = append(calls, args)
		if args[0] == "read" {
			return []byte("4200\n"), nil
		}
		return nil, nil
	}}

	port, ok, err := b.GetInt("server.port")
	if err != nil || !ok || port != 4200 {
		t.Fatalf("GetInt = %d, %v, %v", port, ok, err)
	}
	if err := b.SetString("log.level", "debug"); err != nil {
		t.Fatal(err)
	}

	want := [][]string{
		{"read", "com.prefd.test", "server.port"},
		{"write", "com.prefd.test", "log.level", "-string", "debug"},
	}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestDarwinBackendWriteError(t *testing.T) {
	b := &darwinBackend{domain: "com.prefd.test", run: func(args ...string) ([]byte, error) {
		return []byte("boom"), errors.New("exit status 2")
	}}
	if err := b.SetInt("server.port", 1); err == nil {
		t.Fatal("expected error")
	}
	if _, _, err := b.GetString("log.level"); err == nil {
		t.Fatal("expected error for non-ExitError failure")
	}
}
