package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dsbaciga/captainslog/offline"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push every queued change to the server once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				res := a.engine.SyncAll(cmd.Context())
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newSyncTripCmd() *cobra.Command {
	var tripID string

	cmd := &cobra.Command{
		Use:   "sync-trip",
		Short: "Push the queued changes of one trip",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				res := a.engine.SyncTrip(cmd.Context(), tripID)
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	cmd.Flags().StringVar(&tripID, "trip-id", "", "Trip ID (required)")
	_ = cmd.MarkFlagRequired("trip-id")
	return cmd
}

func newEnqueueCmd() *cobra.Command {
	var entityType, op, entityID, localID, tripID, data string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a change as the app would while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := offline.PendingMutation{
				EntityType: entityType,
				Operation:  offline.Operation(op),
				EntityID:   entityID,
				LocalID:    localID,
				TripID:     tripID,
			}
			if data != "" {
				if err := json.Unmarshal([]byte(data), &m.Data); err != nil {
					return fmt.Errorf("--data must be a JSON object: %w", err)
				}
			}
			if m.Operation == offline.OpCreate && m.LocalID == "" && m.EntityID == "" {
				m.LocalID = "local-" + uuid.NewString()
			}

			return withApp(func(a *app) error {
				out, err := a.queue.Enqueue(cmd.Context(), m)
				if err != nil {
					return err
				}
				log.Debug().Int64("mutation_id", out.ID).Str("entity_type", out.EntityType).Msg("mutation queued")
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}

	cmd.Flags().StringVar(&entityType, "type", "", "Entity type, e.g. activity (required)")
	cmd.Flags().StringVar(&op, "op", "", "Operation: create, update or delete (required)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "Server ID of the entity (update/delete)")
	cmd.Flags().StringVar(&localID, "local-id", "", "Temporary ID for creates (generated when empty)")
	cmd.Flags().StringVar(&tripID, "trip-id", "", "Owning trip ID")
	cmd.Flags().StringVar(&data, "data", "", "Payload as a JSON object")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("op")
	return cmd
}

func newPendingCmd() *cobra.Command {
	var tripID string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List queued changes, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				var (
					muts []offline.PendingMutation
					err  error
				)
				if tripID != "" {
					muts, err = a.queue.ListByTrip(cmd.Context(), tripID)
				} else {
					muts, err = a.queue.List(cmd.Context())
				}
				if err != nil {
					return err
				}
				if muts == nil {
					muts = []offline.PendingMutation{}
				}
				return printJSON(cmd.OutOrStdout(), muts)
			})
		},
	}

	cmd.Flags().StringVar(&tripID, "trip-id", "", "Only list changes of this trip")
	return cmd
}

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List conflicts awaiting a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				cs, err := a.engine.GetPendingConflicts(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cs)
			})
		},
	}
}

func newResolveCmd() *cobra.Command {
	var id, resolution string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a stored conflict with local, server or merge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				var ok bool
				err := whenIdle(cmd.Context(), func() (err error) {
					ok, err = a.engine.ResolveConflict(cmd.Context(), id, offline.Resolution(resolution))
					return err
				})
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("conflict %s not found or already resolved", id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Conflict %s resolved: %s\n", id, resolution)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Conflict ID (required)")
	cmd.Flags().StringVar(&resolution, "resolution", "", "local, server or merge (required)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("resolution")
	return cmd
}

func newRetryCmd() *cobra.Command {
	var id int64

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Reset a change's retry counter and push it now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				var ok bool
				err := whenIdle(cmd.Context(), func() (err error) {
					ok, err = a.engine.RetrySync(cmd.Context(), id)
					return err
				})
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintf(cmd.OutOrStdout(), "Mutation %d synced\n", id)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Mutation %d was not applied and stays queued\n", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "Mutation ID (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newCancelCmd() *cobra.Command {
	var id int64

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Drop a queued change without sending it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				if err := a.engine.CancelSync(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Mutation %d cancelled\n", id)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "Mutation ID (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newDeadLettersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dead-letters",
		Short: "List changes dropped after repeated failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				dl, err := a.queue.ListDeadLetters(cmd.Context())
				if err != nil {
					return err
				}
				if dl == nil {
					dl = []offline.DeadLetter{}
				}
				return printJSON(cmd.OutOrStdout(), dl)
			})
		},
	}
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete resolved conflicts and dead letters past their retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				rep, err := a.engine.PruneHistory(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
}

func newEntityTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entity-types",
		Short: "List the entity types the engine can sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			types := offline.EntityTypes()
			endpoints := offline.Endpoints()
			for i := range types {
				fmt.Fprintf(cmd.OutOrStdout(), "%-26s %s\n", types[i], endpoints[i])
			}
			return nil
		},
	}
}

// idleTimeout bounds how long manual commands wait for a running pass.
var idleTimeout = 10 * time.Second

// whenIdle runs fn, retrying with backoff while a sync pass holds the engine.
// Other errors are returned at once.
func whenIdle(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = idleTimeout

	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !errors.Is(err, offline.ErrSyncInProgress) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}
