package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeExec struct {
	loggedIn bool
	calls    []string
	failOn   string
}

func (f *fakeExec) record(name string) error {
	f.calls = append(f.calls, name)
	if name == f.failOn {
		return errors.New(name + " failed")
	}
	return nil
}

func (f *fakeExec) isLoggedIn() bool                   { return f.loggedIn }
func (f *fakeExec) Register(ctx context.Context) error { return f.record("register") }
func (f *fakeExec) Refresh(ctx context.Context) error  { return f.record("refresh") }
func (f *fakeExec) Revoke(ctx context.Context) error   { return f.record("revoke") }
func (f *fakeExec) Users(ctx context.Context) error    { return f.record("users") }
func (f *fakeExec) Tokens(ctx context.Context) error   { return f.record("tokens") }
func (f *fakeExec) Login(ctx context.Context) error {
	f.loggedIn = true
	return f.record("login")
}
func (f *fakeExec) Logout(ctx context.Context) error {
	f.loggedIn = false
	return f.record("logout")
}

func TestRunREPL_DispatchesCommands(t *testing.T) {
	input := strings.Join([]string{
		"help",
		"register",
		"login",
		"",
		"help",
		"refresh",
		"users",
		"tokens",
		"revoke",
		"logout",
		"foobar",
		"exit",
		"users",
	}, "\n")

	exec := &fakeExec{failOn: "tokens"}
	var out bytes.Buffer
	runREPL(context.Background(), exec, func() string { return "" }, bufio.NewReader(strings.NewReader(input)), &out)

	want := []string{"register", "login", "refresh", "users", "tokens", "revoke", "logout"}
	if strings.Join(exec.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", exec.calls, want)
	}

	s := out.String()
	for _, frag := range []string{
		"Available commands: register, login, exit",
		"Available commands: refresh, revoke",
		"Error: tokens failed",
		"Unknown command: foobar",
		"Bye!",
	} {
		if !strings.Contains(s, frag) {
			t.Errorf("output missing %q:\n%s", frag, s)
		}
	}
}

func TestRunREPL_StopsOnEOF(t *testing.T) {
	exec := &fakeExec{}
	var out bytes.Buffer
	runREPL(context.Background(), exec, func() string { return "(bob)" }, bufio.NewReader(strings.NewReader("users")), &out)

	if len(exec.calls) != 1 || exec.calls[0] != "users" {
		t.Fatalf("unexpected calls: %v", exec.calls)
	}
	if !strings.HasPrefix(out.String(), "ak(bob)> ") {
		t.Fatalf("unexpected prompt: %q", out.String())
	}
}

func TestRunREPL_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := &fakeExec{}
	runREPL(ctx, exec, func() string { return "" }, bufio.NewReader(strings.NewReader("users\n")), &bytes.Buffer{})

	if len(exec.calls) != 0 {
		t.Fatalf("unexpected calls: %v", exec.calls)
	}
}
