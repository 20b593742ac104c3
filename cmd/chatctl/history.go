package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/listing-chat/internal/config"
	"github.com/capitalize-ai/listing-chat/internal/service"
	"github.com/capitalize-ai/listing-chat/internal/store"
	"github.com/capitalize-ai/listing-chat/pkg/logger"
)

func newHistoryCmd() *cobra.Command {
	var (
		a, b    string
		subject string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the messages between two participants",
		Long:  "Prints the stored conversation between --a and --b as one JSON object per line, oldest first. --subject narrows it to one listing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, a, b, subject, limit)
		},
	}

	cmd.Flags().StringVar(&a, "a", "", "first participant (required)")
	cmd.Flags().StringVar(&b, "b", "", "second participant (required)")
	cmd.Flags().StringVar(&subject, "subject", "", "subject entity to filter by")
	cmd.Flags().IntVar(&limit, "limit", store.DefaultLimit, "maximum number of messages")
	_ = cmd.MarkFlagRequired("a")
	_ = cmd.MarkFlagRequired("b")
	return cmd
}

func runHistory(cmd *cobra.Command, a, b, subject string, limit int) error {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return errors.New("both participants must be set")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	msgs, err := st.ListBetween(cmd.Context(), a, b, strings.TrimSpace(subject), limit)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for i := range msgs {
		if err := enc.Encode(&msgs[i]); err != nil {
			return err
		}
	}
	return nil
}

func newRoomsCmd() *cobra.Command {
	var identity string

	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List the conversations of a participant",
		Long:  "Prints one JSON room summary per line for identity, newest first, with unread counts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRooms(cmd, identity)
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "participant to list rooms for (required)")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

func runRooms(cmd *cobra.Command, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return errors.New("identity must not be blank")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rooms := service.NewRoomService(st, nil, service.HistoryLimits{}, logger.Nop())
	resp, err := rooms.ListRooms(cmd.Context(), identity)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for i := range resp.Rooms {
		if err := enc.Encode(&resp.Rooms[i]); err != nil {
			return err
		}
	}
	return nil
}

func openStore() (store.Store, error) {
	cfg := config.Load()
	if cfg.StoreDriver == config.StoreMemory {
		return nil, errors.New("the memory store keeps nothing to inspect; set STORE_DRIVER to sqlite or badger")
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
