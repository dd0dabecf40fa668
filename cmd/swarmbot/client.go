package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mtzanidakis/swarmbot/internal/natsbus"
	"github.com/mtzanidakis/swarmbot/internal/swarm"
	"github.com/spf13/cobra"
)

const requestTimeout = 10 * time.Second

func natsURL(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		return v
	}
	return "nats://localhost:4222"
}

func newSubmitCmd() *cobra.Command {
	var (
		url          string
		description  string
		priority     int
		requirements []string
		dependencies []string
		payload      []string
		batchFile    string
	)

	cmd := &cobra.Command{
		Use:   "submit [type]",
		Short: "Submit a task (or a JSON batch with -f) to a running gateway",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req swarm.SubmitRequest
			switch {
			case batchFile != "":
				batch, err := readBatch(batchFile)
				if err != nil {
					return err
				}
				req.Batch = batch
			case len(args) == 1:
				fields, err := parsePayload(payload)
				if err != nil {
					return err
				}
				req.Task = &swarm.TaskRequest{
					Type:         args[0],
					Description:  description,
					Priority:     priority,
					Requirements: requirements,
					Dependencies: dependencies,
					Payload:      fields,
				}
			default:
				return fmt.Errorf("a task type or --file is required")
			}

			client, err := natsbus.NewClientFromURL(natsURL(url))
			if err != nil {
				return err
			}
			defer client.Close()

			var resp swarm.SubmitReply
			if err := client.RequestJSON(natsbus.TopicSubmitTask, req, &resp, requestTimeout); err != nil {
				return err
			}
			if resp.Error != "" {
				return fmt.Errorf("%s", resp.Error)
			}
			for _, id := range resp.IDs {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "nats", "", "NATS URL (default $NATS_URL or nats://localhost:4222)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "priority, lower runs first")
	cmd.Flags().StringSliceVar(&requirements, "require", nil, "required tools")
	cmd.Flags().StringSliceVar(&dependencies, "after", nil, "task ids that must finish first")
	cmd.Flags().StringArrayVar(&payload, "set", nil, "payload field as key=value (repeatable)")
	cmd.Flags().StringVarP(&batchFile, "file", "f", "", "JSON file with an array of tasks, - for stdin")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "status [task-id]",
		Short: "Show swarm status, or a single task",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := natsbus.NewClientFromURL(natsURL(url))
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				var resp swarm.TaskReply
				if err := client.RequestJSON(natsbus.TopicTaskStatus, map[string]string{"id": args[0]}, &resp, requestTimeout); err != nil {
					return err
				}
				if resp.Error != "" {
					return fmt.Errorf("%s", resp.Error)
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp.Task)
			}

			var st swarm.Status
			if err := client.RequestJSON(natsbus.TopicSwarmStatus, struct{}{}, &st, requestTimeout); err != nil {
				return err
			}
			printStatus(out, st)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "nats", "", "NATS URL (default $NATS_URL or nats://localhost:4222)")
	return cmd
}

func printStatus(w io.Writer, st swarm.Status) {
	fmt.Fprintf(w, "running: %t  queued: %d  active: %d  finished: %d\n",
		st.Running, st.QueueSize, st.ActiveTasks, st.CompletedTasks)
	fmt.Fprintf(w, "completed: %d  failed: %d  retried: %d  deferred: %d  timeouts: %d  avg: %s\n",
		st.Metrics.TasksCompleted, st.Metrics.TasksFailed, st.Metrics.TasksRetried,
		st.Metrics.TasksDeferred, st.Metrics.TimeoutsDetected, st.Metrics.AverageCompletionTime.Round(time.Millisecond))

	ids := make([]string, 0, len(st.Agents))
	for id := range st.Agents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return st.Agents[ids[i]].Name < st.Agents[ids[j]].Name })
	if len(ids) == 0 {
		fmt.Fprintln(w, "no agents")
		return
	}
	for _, id := range ids {
		a := st.Agents[id]
		fmt.Fprintf(w, "  %-20s %-12s %-10s reliability=%.2f load=%.1f\n", a.Name, a.Role, a.Status, a.Reliability, a.Load)
	}
}

// parsePayload turns key=value pairs into a payload map. Values that parse
// as JSON (numbers, booleans, objects) keep their type, others are strings.
func parsePayload(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid payload field %q, want key=value", p)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err == nil {
			out[key] = v
			continue
		}
		if unquoted, err := strconv.Unquote(value); err == nil {
			out[key] = unquoted
			continue
		}
		out[key] = value
	}
	return out, nil
}

func readBatch(path string) ([]swarm.TaskRequest, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	var batch []swarm.TaskRequest
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parse batch: %w", err)
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("batch is empty")
	}
	return batch, nil
}
