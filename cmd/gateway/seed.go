package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/4runr/gateway/internal/agent"
	"github.com/4runr/gateway/internal/config"
	"github.com/4runr/gateway/internal/policy"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo agent and starter policies",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	agentStore := agent.NewPGStore(pool)
	policyStore := policy.NewPGStore(pool)

	// Check if seed has already run.
	existing, _, err := agentStore.List(ctx, agent.ListParams{Limit: 1})
	if err != nil {
		return fmt.Errorf("checking existing agents: %w", err)
	}
	if len(existing) > 0 {
		slog.Info("demo data already exists, skipping seed")
		return nil
	}

	ag, err := agentStore.Create(ctx, agent.CreateAgentInput{
		Name: "demo-agent",
		Role: "worker",
	})
	if err != nil {
		return fmt.Errorf("creating demo agent: %w", err)
	}
	slog.Info("created demo agent", "id", ag.ID, "name", ag.Name)

	// Role-scoped baseline: read-only web fetches for every worker, with a
	// quota and a response filter on search.
	rolePolicy, err := policyStore.Create(ctx, policy.CreatePolicyInput{
		Name: "workers-baseline",
		Role: "worker",
		Spec: policy.Spec{Rules: []policy.Rule{
			{Tool: "http", Actions: []string{"get"}},
			{
				Tool:    "search",
				Actions: []string{"search"},
				Quota:   &policy.QuotaSpec{Limit: 100, WindowSeconds: 3600},
				Filters: []string{"results", "total"},
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("creating role policy: %w", err)
	}
	slog.Info("created policy", "id", rolePolicy.ID, "name", rolePolicy.Name)

	// Agent-scoped grant: the demo agent may also send mail.
	agentPolicy, err := policyStore.Create(ctx, policy.CreatePolicyInput{
		Name:    "demo-agent-mail",
		AgentID: ag.ID,
		Spec: policy.Spec{Rules: []policy.Rule{
			{
				Tool:    "mail",
				Actions: []string{"send"},
				Quota:   &policy.QuotaSpec{Limit: 10, WindowSeconds: 86400},
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("creating agent policy: %w", err)
	}
	slog.Info("created policy", "id", agentPolicy.ID, "name", agentPolicy.Name)

	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("Agent:    %s (%s)\n", ag.Name, ag.ID)
	fmt.Printf("Policies: %s, %s\n", rolePolicy.Name, agentPolicy.Name)
	fmt.Printf("\nMint a token:\n")
	fmt.Printf("  curl -X POST http://localhost:%d/api/generate-token \\\n", cfg.Server.Port)
	fmt.Printf("    -d '{\"agent_id\":\"%s\",\"tools\":[\"http\",\"search\"]}'\n", ag.ID)

	return nil
}
