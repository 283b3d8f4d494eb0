package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/relay/internal/domain"
)

// apiClient calls the relay REST API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends body as JSON and decodes the response into out.
func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
		}
		return fmt.Errorf("relay returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type submitResult struct {
	Message   *domain.Message `json:"message"`
	Duplicate bool            `json:"duplicate"`
	Command   string          `json:"command"`
	Reply     string          `json:"reply"`
}

func (c *apiClient) say(ctx context.Context, content string) (submitResult, error) {
	var res submitResult
	err := c.do(ctx, http.MethodPost, "/api/messages", map[string]string{
		"participantId": participantID,
		"authorName":    displayName,
		"content":       content,
	}, &res)
	return res, err
}

func (c *apiClient) bots(ctx context.Context) ([]domain.BotDefinition, error) {
	var res struct {
		Bots []domain.BotDefinition `json:"bots"`
	}
	err := c.do(ctx, http.MethodGet, "/api/bots", nil, &res)
	return res.Bots, err
}

func (c *apiClient) toggle(ctx context.Context, name string, enabled bool) (domain.BotState, error) {
	var state domain.BotState
	err := c.do(ctx, http.MethodPost, "/api/bots/"+name+"/toggle", map[string]bool{"enabled": enabled}, &state)
	return state, err
}

func (c *apiClient) clear(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/clear", map[string]string{
		"participantId": participantID,
		"authorName":    displayName,
	}, nil)
}

func init() {
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(botsCmd)
	rootCmd.AddCommand(clearCmd)
	botsCmd.AddCommand(botsToggleCmd)
}

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Post a message or slash command",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newAPIClient(serverAddr).say(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		switch {
		case res.Reply != "":
			fmt.Fprintln(out, res.Reply)
		case res.Duplicate && res.Message != nil:
			fmt.Fprintf(out, "already posted as %s\n", res.Message.ID)
		case res.Duplicate:
			fmt.Fprintln(out, "already posted")
		case res.Message != nil:
			fmt.Fprintf(out, "posted %s\n", res.Message.ID)
		}
		return nil
	},
}

var botsCmd = &cobra.Command{
	Use:   "bots",
	Short: "List configured bots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := newAPIClient(serverAddr).bots(cmd.Context())
		if err != nil {
			return err
		}
		printBots(cmd.OutOrStdout(), list)
		return nil
	},
}

var botsToggleCmd = &cobra.Command{
	Use:   "toggle <name> on|off",
	Short: "Enable or disable a bot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var enabled bool
		switch strings.ToLower(args[1]) {
		case "on":
			enabled = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[1])
		}
		state, err := newAPIClient(serverAddr).toggle(cmd.Context(), args[0], enabled)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", state.Name, onOff(state.Enabled))
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the conversation history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAPIClient(serverAddr).clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
		return nil
	},
}

func printBots(w io.Writer, list []domain.BotDefinition) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tSHYNESS\tTRIGGERS")
	for _, b := range list {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", b.Name, onOff(b.Enabled), b.Shyness, strings.Join(b.TriggerWords, ","))
	}
	tw.Flush()
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
