package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bububa/nutrition-agents/agents/chat"
	"github.com/bububa/nutrition-agents/agents/nutrition"
	"github.com/bububa/nutrition-agents/components/knowledge"
	"github.com/bububa/nutrition-agents/components/nutricalc"
	"github.com/bububa/nutrition-agents/schema"
	"github.com/bububa/nutrition-agents/workflow"
)

// loadProfile reads a YAML or JSON user context, empty path is an anonymous user
func loadProfile(path string) (schema.UserContext, error) {
	var uc schema.UserContext
	if path == "" {
		return uc, nil
	}
	bs, err := os.ReadFile(path)
	if err != nil {
		return uc, fmt.Errorf("read profile: %w", err)
	}
	if err := yaml.Unmarshal(bs, &uc); err != nil {
		return uc, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return uc, nil
}

// eventLine JSON line written per step event
type eventLine struct {
	workflow.StepEvent
	Error string `json:"error,omitempty"`
}

func writeEvent(enc *json.Encoder, ev workflow.StepEvent) error {
	return enc.Encode(eventLine{StepEvent: ev, Error: ev.Error()})
}

// stream writes every event of run to w and returns the final state
func stream(run *workflow.Run, w io.Writer) (*workflow.RunState, error) {
	events, err := run.Events()
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(w)
	for ev := range events {
		if err := writeEvent(enc, ev); err != nil {
			run.Cancel()
			return nil, err
		}
	}
	return run.Wait()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type AnalyzeCmd struct {
	Image   string `required:"" help:"Image reference: file path, http(s)://, s3://bucket/key or data: URI."`
	Portion string `help:"Portion hint, e.g. \"one bowl\"."`
	Profile string `help:"User context file (YAML or JSON)." type:"existingfile"`
	Quiet   bool   `short:"q" help:"Print only the final result."`
}

func (c *AnalyzeCmd) Run(ctx context.Context, cli *CLI) error {
	uc, err := loadProfile(c.Profile)
	if err != nil {
		return err
	}
	svc, closeFn, err := cli.services(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	if err := svc.EnsureSeeded(ctx); err != nil {
		svc.Logger.WarnContext(ctx, "knowledge seeding failed", "error", err)
	}
	p, err := svc.Nutrition()
	if err != nil {
		return err
	}
	run := svc.Executor().Start(ctx, p.Table(), nutrition.Input(c.Image, c.Portion), uc)
	var state *workflow.RunState
	if c.Quiet {
		state, err = run.Wait()
	} else {
		state, err = stream(run, os.Stdout)
	}
	if err != nil {
		return err
	}
	if c.Quiet && state.Status == workflow.StatusCompleted {
		return printJSON(os.Stdout, state.Result)
	}
	return nil
}

type ChatCmd struct {
	Message     string `short:"m" help:"Message to send; reads one message per line from stdin when empty."`
	Session     string `help:"Session id to continue, a new session is created when empty."`
	SessionType int    `help:"Force the intent: 1 nutrition question, 2 health assessment, 3 food identification, 4 exercise guidance." default:"0"`
	Profile     string `help:"User context file (YAML or JSON)." type:"existingfile"`
	Events      bool   `help:"Stream the run events as JSON lines instead of printing replies."`
}

func (c *ChatCmd) Run(ctx context.Context, cli *CLI) error {
	uc, err := loadProfile(c.Profile)
	if err != nil {
		return err
	}
	svc, closeFn, err := cli.services(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	if err := svc.EnsureSeeded(ctx); err != nil {
		svc.Logger.WarnContext(ctx, "knowledge seeding failed", "error", err)
	}
	p, err := svc.Chat(chat.NewMemoryStore(0))
	if err != nil {
		return err
	}
	exec := svc.Executor()
	session := c.Session
	send := func(message string) error {
		run := exec.Start(ctx, p.Table(), chat.Input(message, session, c.SessionType), uc)
		var (
			state *workflow.RunState
			err   error
		)
		if c.Events {
			state, err = stream(run, os.Stdout)
		} else {
			state, err = run.Wait()
		}
		if err != nil {
			return err
		}
		res, ok := state.Result.(schema.ChatResult)
		if !ok {
			return ctx.Err()
		}
		session = res.SessionID
		if !c.Events {
			fmt.Printf("[%s] %s\n", res.Intent, res.Reply)
		}
		return nil
	}
	if c.Message != "" {
		return send(c.Message)
	}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		msg := strings.TrimSpace(scanner.Text())
		if msg == "" {
			continue
		}
		if err := send(msg); err != nil {
			return err
		}
	}
	return scanner.Err()
}

type IndexCmd struct {
	Paths    []string `arg:"" optional:"" help:"Files or URLs to ingest (html, pdf, xlsx, docx, text)."`
	Category string   `help:"Knowledge category of the passages." enum:"nutrition_fact,health_guideline,food_interaction" default:"nutrition_fact"`
	Source   string   `help:"Source name cited in results, the file name when empty."`
	Seed     bool     `help:"Index the bundled baseline passages too."`
}

func (c *IndexCmd) Run(ctx context.Context, cli *CLI) error {
	svc, closeFn, err := cli.services(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	if c.Seed {
		n, _, err := knowledge.Seed(ctx, svc.Retriever)
		if err != nil {
			return err
		}
		fmt.Printf("seed\t%d passages\n", n)
	}
	loader, err := svc.Loader()
	if err != nil {
		return err
	}
	meta := schema.KnowledgeMeta{Category: c.Category, Source: c.Source}
	for _, path := range c.Paths {
		n, _, err := loader.Load(ctx, path, meta)
		if err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}
		fmt.Printf("%s\t%d passages\n", path, n)
	}
	return nil
}

type SearchCmd struct {
	Query    string `arg:"" help:"Search query."`
	K        int    `short:"k" help:"Number of passages." default:"5"`
	Category string `help:"Restrict to a knowledge category."`
}

func (c *SearchCmd) Run(ctx context.Context, cli *CLI) error {
	svc, closeFn, err := cli.services(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	if err := svc.EnsureSeeded(ctx); err != nil {
		return err
	}
	var filter *knowledge.Filter
	if c.Category != "" {
		filter = &knowledge.Filter{Category: c.Category}
	}
	docs, err := svc.Retriever.Search(ctx, c.Query, c.K, filter)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		fmt.Printf("%.3f\t%s\t%s\t%s\n", doc.Score, doc.Metadata.Category, doc.Metadata.Source, doc.Text)
	}
	return nil
}

type TargetsCmd struct {
	Profile string `required:"" help:"User context file (YAML or JSON)." type:"existingfile"`
}

// targetsReport daily targets plus weight progress when the profile has a target
type targetsReport struct {
	*schema.DailyTargets
	Progress *nutricalc.Progress `json:"progress,omitempty"`
}

func (c *TargetsCmd) Run() error {
	uc, err := loadProfile(c.Profile)
	if err != nil {
		return err
	}
	daily, err := nutricalc.DailyTargets(uc)
	if err != nil {
		return err
	}
	ret := targetsReport{DailyTargets: daily}
	if p := uc.Profile; p.StartingWeightKG > 0 && p.TargetWeightKG > 0 {
		progress := nutricalc.GoalProgress(p.StartingWeightKG, p.WeightKG, p.TargetWeightKG, uc.Goal)
		ret.Progress = &progress
	}
	return printJSON(os.Stdout, ret)
}

type ValidateCmd struct {
	PrintConfig bool `short:"p" name:"print-config" help:"Print the expanded configuration."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	if c.PrintConfig {
		bs, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(bs)
		return err
	}
	fmt.Println("configuration is valid")
	return nil
}
