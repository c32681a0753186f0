package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/park285/cheese-opening-coach/internal/adapter/coachpresenter"
	"github.com/park285/cheese-opening-coach/internal/chess/movesel"
	"github.com/park285/cheese-opening-coach/internal/chess/openingtree"
	"github.com/park285/cheese-opening-coach/internal/service/practice"
)

func newTestREPL(t *testing.T, out *bytes.Buffer) *repl {
	t.Helper()
	catalog, err := openingtree.DefaultCatalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	m, err := practice.NewManager(catalog, nil, nil, nil, nil, practice.Config{
		DefaultOpening: "italian-game",
		Mode:           movesel.NeverDeviate,
		Elo:            1200,
	}, nil)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	t.Cleanup(m.Close)
	return &repl{
		manager: m,
		presenter: coachpresenter.NewPresenter(nil, func(message string) error {
			_, err := fmt.Fprintln(out, message)
			return err
		}),
		openings: coachpresenter.ToDTOOpenings(catalog.List()),
	}
}

func TestREPLPlaysBookLine(t *testing.T) {
	var out bytes.Buffer
	r := newTestREPL(t, &out)
	ctx := context.Background()
	if err := r.begin(ctx, ""); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !strings.Contains(out.String(), "Italian Game (C50)") || !strings.Contains(out.String(), "Book moves: e4") {
		t.Fatalf("start output:\n%s", out.String())
	}

	out.Reset()
	if done, err := r.handle(ctx, "e4"); err != nil || done {
		t.Fatalf("e4: %v %v", done, err)
	}
	for _, want := range []string{"1. e4 (book)", "1... e5 (book)", "Book moves: Nf3"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("turn output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if _, err := r.handle(ctx, "Ke3"); err != nil {
		t.Fatalf("illegal: %v", err)
	}
	if !strings.Contains(out.String(), "That move is not legal here: Ke3") {
		t.Fatalf("illegal output:\n%s", out.String())
	}

	out.Reset()
	if _, err := r.handle(ctx, "switch"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if !strings.Contains(out.String(), "has not transposed") {
		t.Fatalf("switch output:\n%s", out.String())
	}
}

func TestREPLCommands(t *testing.T) {
	var out bytes.Buffer
	r := newTestREPL(t, &out)
	ctx := context.Background()
	if err := r.begin(ctx, ""); err != nil {
		t.Fatalf("begin: %v", err)
	}

	out.Reset()
	if _, err := r.handle(ctx, "eval"); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !strings.Contains(out.String(), "retry") {
		t.Fatalf("eval without engine should report an engine error:\n%s", out.String())
	}

	out.Reset()
	if _, err := r.handle(ctx, "openings"); err != nil || !strings.Contains(out.String(), "caro-kann") {
		t.Fatalf("openings: %v\n%s", err, out.String())
	}

	if _, err := r.handle(ctx, "e4"); err != nil {
		t.Fatalf("e4: %v", err)
	}
	out.Reset()
	done, err := r.handle(ctx, "end")
	if err != nil || !done {
		t.Fatalf("end: %v %v", done, err)
	}
	if !strings.Contains(out.String(), "italian-game as white") {
		t.Fatalf("end output:\n%s", out.String())
	}

	out.Reset()
	if _, err := r.handle(ctx, "status"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "No practice game is running") {
		t.Fatalf("ended session should be gone:\n%s", out.String())
	}
}

func TestREPLRunStopsOnQuit(t *testing.T) {
	var out bytes.Buffer
	r := newTestREPL(t, &out)
	ctx := context.Background()
	if err := r.begin(ctx, ""); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.run(ctx, strings.NewReader("\nhelp\nquit\ne4\n"), &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "saved for later") || strings.Contains(out.String(), "1. e4") {
		t.Fatalf("run output:\n%s", out.String())
	}
}
