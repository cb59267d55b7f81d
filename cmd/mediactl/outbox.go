package main

import (
	"github.com/spf13/cobra"

	"github.com/angelmondragon/catalog-media/pkg/enums"
	"github.com/angelmondragon/catalog-media/pkg/outbox"
)

func newOutboxCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and replay dead-lettered events",
	}

	var (
		reason    string
		eventType string
		limit     int
	)
	list := &cobra.Command{
		Use:   "dead-letters",
		Short: "List dead-lettered events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dlq, err := c.deadLetters(cmd)
			if err != nil {
				return err
			}
			rows, err := dlq.List(cmd.Context(), outbox.DLQFilter{
				Reason:    enums.OutboxDLQErrorReason(reason),
				EventType: enums.OutboxEventType(eventType),
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
	list.Flags().StringVar(&reason, "reason", "", "only this error reason")
	list.Flags().StringVar(&eventType, "type", "", "only this event type")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")

	requeue := &cobra.Command{
		Use:   "requeue EVENT_ID",
		Short: "Hand a dead-lettered event back to the publisher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("event", args[0])
			if err != nil {
				return err
			}
			dlq, err := c.deadLetters(cmd)
			if err != nil {
				return err
			}
			entry, err := dlq.Requeue(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"event_id":   entry.EventID,
				"event_type": entry.EventType,
				"requeued":   true,
			})
		},
	}

	cmd.AddCommand(list, requeue)
	return cmd
}

func (c *cli) deadLetters(cmd *cobra.Command) (*outbox.DLQRepository, error) {
	if _, err := c.services(cmd.Context()); err != nil {
		return nil, err
	}
	return outbox.NewDLQRepository(c.rt.DB.DB()), nil
}
