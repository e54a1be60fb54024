package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alexsmy/bot-29-sub000/internal/application"
	"github.com/alexsmy/bot-29-sub000/internal/model"
	"github.com/alexsmy/bot-29-sub000/internal/service"
)

var (
	roomCreatorID int64
	roomType      string
)

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Room administration",
}

// room create only persists the session; the running server materialises it on first connect.
var roomCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a room session and print its invitation URL",
	RunE:  runRoomCreate,
}

func init() {
	roomCreateCmd.Flags().Int64Var(&roomCreatorID, "creator-id", 0, "chat user id of the room creator")
	roomCreateCmd.Flags().StringVar(&roomType, "type", string(model.RoomTypePrivate), "room type: private or admin")
	_ = roomCreateCmd.MarkFlagRequired("creator-id")
	roomCmd.AddCommand(roomCreateCmd)
	rootCmd.AddCommand(roomCmd)
}

func runRoomCreate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.StoreDriver == "memory" {
		return fmt.Errorf("room create: STORE_DRIVER=memory rooms would not reach the server")
	}
	rt := model.RoomType(roomType)
	if !rt.Valid() {
		return fmt.Errorf("unknown room type %q", roomType)
	}
	st, _, err := application.OpenStore(cfg, log)
	if err != nil {
		return err
	}
	lifetime := cfg.PrivateRoomLifetime
	if rt == model.RoomTypeAdmin {
		lifetime = cfg.AdminRoomLifetime
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	now := time.Now().UTC()
	sess, err := st.CreateSession(ctx, model.NewSession{
		RoomID:    uuid.NewString(),
		CreatorID: roomCreatorID,
		CreatedAt: now,
		ExpiresAt: now.Add(lifetime),
		RoomType:  rt,
	})
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	urls := &service.URLConfig{BaseURL: cfg.BaseURL, BasePath: cfg.BasePath}
	fmt.Fprintf(cmd.OutOrStdout(), "room_id:    %s\nurl:        %s\nexpires_at: %s\n",
		sess.RoomID, urls.RoomURL(sess.RoomID), sess.ExpiresAt.Format(time.RFC3339))
	return nil
}
