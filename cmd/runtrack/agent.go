package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/runtrack/internal/agent"
)

func newAgentCommand() *cobra.Command {
	var queues, addr, id string
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Poll run queues and launch queued jobs locally",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			a, err := agent.New(agent.Config{
				Dir:          s.Dir,
				Entity:       s.Entity,
				Project:      s.Project,
				Queues:       splitCSV(queues),
				PollInterval: interval,
				ID:           id,
			})
			if err != nil {
				return err
			}
			clog.FromContext(cmd.Context()).With("agent_id", a.ID(), "addr", addr).Info("starting agent")
			if addr == "" {
				return a.Loop(cmd.Context())
			}
			return a.Serve(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&queues, "queues", "default", "comma-separated queue names")
	cmd.Flags().DurationVar(&interval, "poll-interval", agent.DefaultPollInterval, "queue poll interval")
	cmd.Flags().StringVar(&addr, "addr", "", "serve /healthz, /metrics and /status on this address")
	cmd.Flags().StringVar(&id, "id", "", "agent id (default: generated)")
	return cmd
}

func newQueueCommand() *cobra.Command {
	queueCmd := &cobra.Command{Use: "queue", Short: "Manage run queues"}

	var queue, image, resource string
	pushCmd := &cobra.Command{
		Use:   "push -- <command> [args...]",
		Short: "Queue a job for an agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			item, err := agent.NewDirQueue(s.Dir).Push(queue, agent.RunSpec{
				Image:    image,
				Command:  args,
				Project:  s.Project,
				Entity:   s.Entity,
				Resource: resource,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), item.ID)
			return nil
		},
	}
	pushCmd.Flags().StringVar(&queue, "queue", "default", "queue name")
	pushCmd.Flags().StringVar(&image, "image", "", "container image recorded with the job")
	pushCmd.Flags().StringVar(&resource, "resource", agent.ResourceLocal, "launch resource")

	lenCmd := &cobra.Command{
		Use:   "len",
		Short: "Print the number of queued items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			n, err := agent.NewDirQueue(s.Dir).Len(queue)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	lenCmd.Flags().StringVar(&queue, "queue", "default", "queue name")

	queueCmd.AddCommand(pushCmd, lenCmd)
	return queueCmd
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
