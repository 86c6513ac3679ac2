package intercept

import (
	"errors"
	"testing"
)

type attachArgs struct {
	host string
	mode string
}

func TestWrap_PreservesArgumentsAndResult(t *testing.T) {
	var gotArg attachArgs
	orig := func(a attachArgs) (string, error) {
		gotArg = a
		return "root-of-" + a.host, nil
	}

	var hookArg attachArgs
	var hookRes string
	w := Wrap(orig, func(a attachArgs, r string) error {
		hookArg, hookRes = a, r
		return nil
	}, nil)

	in := attachArgs{host: "x-card", mode: "closed"}
	res, err := w(in)
	if err != nil {
		t.Fatal(err)
	}
	if res != "root-of-x-card" {
		t.Errorf("result: got %q", res)
	}
	if gotArg != in {
		t.Errorf("orig saw %+v, want %+v", gotArg, in)
	}
	if hookArg != in || hookRes != res {
		t.Errorf("hook saw %+v/%q", hookArg, hookRes)
	}
}

func TestWrap_HookRunsBeforeReturn(t *testing.T) {
	var order []string
	w := Wrap(func(int) (int, error) {
		order = append(order, "orig")
		return 1, nil
	}, func(int, int) error {
		order = append(order, "hook")
		return nil
	}, nil)
	w(0)
	order = append(order, "caller")
	if len(order) != 3 || order[0] != "orig" || order[1] != "hook" || order[2] != "caller" {
		t.Errorf("order: got %v", order)
	}
}

func TestWrap_NeverSwallowsOriginalError(t *testing.T) {
	sentinel := errors.New("NotSupportedError")
	called := false
	w := Wrap(func(int) (*int, error) { return nil, sentinel }, func(int, *int) error {
		called = true
		return nil
	}, nil)

	_, err := w(1)
	if !errors.Is(err, sentinel) {
		t.Errorf("error: got %v, want sentinel", err)
	}
	if called {
		t.Error("hook ran after a failed call")
	}
}

func TestWrap_OriginalPanicPropagates(t *testing.T) {
	w := Wrap(func(int) (int, error) { panic("ctor threw") }, func(int, int) error { return nil }, nil)
	defer func() {
		if r := recover(); r != "ctor threw" {
			t.Errorf("recovered %v, want original panic", r)
		}
	}()
	w(0)
	t.Error("panic did not propagate")
}

func TestWrap_HookFailureIsContained(t *testing.T) {
	w := Wrap(func(int) (int, error) { return 7, nil }, func(int, int) error { panic("instrument failed") }, nil)
	res, err := w(0)
	if err != nil || res != 7 {
		t.Errorf("got %d, %v; want 7, nil", res, err)
	}

	w = Wrap(func(int) (int, error) { return 8, nil }, func(int, int) error { return errors.New("boom") }, nil)
	if res, err := w(0); err != nil || res != 8 {
		t.Errorf("got %d, %v; want 8, nil", res, err)
	}
}

func TestWrap_NilHook(t *testing.T) {
	w := Wrap(func(s string) (string, error) { return s + "!", nil }, nil, nil)
	if res, _ := w("a"); res != "a!" {
		t.Errorf("got %q", res)
	}
}
