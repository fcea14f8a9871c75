package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"github.com/rainoffallingstar/rv/internal/rv/app"
	"github.com/rainoffallingstar/rv/internal/rv/plan"
)

type planCommand struct{}

func (planCommand) Name() string      { return "plan" }
func (planCommand) Args() string      { return "" }
func (planCommand) ShortHelp() string { return "show the install plan without changing the library" }
func (planCommand) Register(*flag.FlagSet) {}

func (planCommand) Run(ctx context.Context, a *app.Ctx, workingDir string, jsonOut bool, args []string) error {
	p, err := app.Load(workingDir, a.Arch)
	if err != nil {
		return err
	}
	_, pl, err := app.Plan(ctx, a, p, false)
	if err != nil {
		return err
	}
	if jsonOut {
		enc := json.NewEncoder(a.Loggers.Out.Writer())
		enc.SetIndent("", "  ")
		return enc.Encode(planJSON(pl))
	}
	for _, act := range pl.Actions {
		a.Loggers.Out.Printf("%s %s\n", act.Kind, act.Name)
	}
	for _, cycle := range pl.Cycles {
		a.Loggers.Out.Printf("cycle batch: %v\n", cycle)
	}
	return nil
}

type planActionJSON struct {
	Kind string `json:"action"`
	Name string `json:"name"`
}

type planJSONOut struct {
	Actions []planActionJSON `json:"actions"`
	Cycles  [][]string       `json:"cycles,omitempty"`
}

func planJSON(pl plan.Plan) planJSONOut {
	out := planJSONOut{Cycles: pl.Cycles}
	for _, act := range pl.Actions {
		out.Actions = append(out.Actions, planActionJSON{Kind: fmt.Sprint(act.Kind), Name: act.Name})
	}
	return out
}
