package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"matjip-chat/config"
	"matjip-chat/internal/chat"
	"matjip-chat/internal/inbox"
	"matjip-chat/internal/live"
	"matjip-chat/internal/roomview"
	"matjip-chat/pkg/logger"
)

const usage = `
Matjip Chat - Terminal Client

Usage:
  chatcli [-user ID] [-token TOKEN]

CHAT_API_URL, CHAT_WS_URL, CHAT_TOKEN and CHAT_USER_ID are read from the environment or .env.

Commands:
  /rooms              list rooms with unread counts
  /dm USER_ID         open the direct room with a user
  /group NAME ID,...  create a group room and open it
  /open ROOM_UUID     open a room
  /older              load older messages of the open room
  /reply N            quote the Nth message of the open room in the next send
  /invite ID,...      invite users to the open room
  /rename NAME        rename the open room
  /leave              leave the open room
  /block USER_ID      block a user
  /close              close the open room
  /quit               sign out
  anything else       send it to the open room
`

type terminalNotifier struct{}

func (terminalNotifier) Notify(n inbox.Notification) {
	fmt.Printf("\n[%s] %s: %s\n", n.Target.RoomUUID, n.Title, n.Body)
}

func main() {
	flag.Usage = func() { fmt.Print(usage) }
	userID := flag.Int64("user", 0, "user id the token belongs to")
	token := flag.String("token", "", "access token")
	debug := flag.Bool("debug", false, "log to stderr")
	flag.Parse()

	cfg := config.LoadClientConfig()
	if *userID != 0 {
		cfg.UserID = *userID
	}
	if *token != "" {
		cfg.Token = *token
	}
	if cfg.UserID == 0 || cfg.Token == "" {
		flag.Usage()
		os.Exit(1)
	}

	l := logger.NewNop()
	if *debug {
		l = logger.New(logger.DevelopmentMode)
	}
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := chat.New(chat.Options{
		Config:   cfg,
		Notifier: terminalNotifier{},
		Logger:   l.Logger,
	})
	client.OnStateChange(func(s live.State) {
		fmt.Printf("\n* %s\n", s)
	})
	if err := client.Login(ctx, cfg.UserID, cfg.Token); err != nil {
		log.Fatalf("Login failed: %v", err)
	}
	defer client.Logout()

	printRooms(client)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			quit, err := handle(ctx, client, strings.TrimSpace(line))
			if err != nil {
				fmt.Printf("! %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}

func handle(ctx context.Context, client *chat.Client, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		view := client.View()
		if view == nil {
			return false, fmt.Errorf("no room open")
		}
		view.SetDraft(line)
		return false, view.Send(ctx)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit":
		return true, nil
	case "/rooms":
		if err := client.Inbox().Refresh(ctx); err != nil {
			return false, err
		}
		printRooms(client)
	case "/dm":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return false, fmt.Errorf("invalid user id %q", arg)
		}
		room, err := client.GetOrCreateRoom(ctx, id)
		if err != nil {
			return false, err
		}
		return false, open(ctx, client, room.UUID)
	case "/group":
		name, rawIDs, _ := strings.Cut(arg, " ")
		ids, err := parseIDs(rawIDs)
		if err != nil {
			return false, err
		}
		room, err := client.CreateGroupRoom(ctx, name, ids)
		if err != nil {
			return false, err
		}
		return false, open(ctx, client, room.UUID)
	case "/open":
		return false, open(ctx, client, arg)
	case "/older":
		view := client.View()
		if view == nil {
			return false, fmt.Errorf("no room open")
		}
		more, err := view.LoadOlder(ctx)
		if err != nil {
			return false, err
		}
		if !more {
			fmt.Println("* no older messages")
		}
		printView(client.UserID(), view)
	case "/reply":
		view := client.View()
		if view == nil {
			return false, fmt.Errorf("no room open")
		}
		n, err := strconv.Atoi(arg)
		entries := view.Entries()
		if err != nil || n < 1 || n > len(entries) {
			return false, fmt.Errorf("no message %q", arg)
		}
		msg := entries[n-1].Message
		view.ReplyTo(&msg)
	case "/invite":
		view := client.View()
		if view == nil {
			return false, fmt.Errorf("no room open")
		}
		ids, err := parseIDs(arg)
		if err != nil {
			return false, err
		}
		_, err = client.InviteToRoom(ctx, view.Room().UUID, ids)
		return false, err
	case "/rename":
		view := client.View()
		if view == nil {
			return false, fmt.Errorf("no room open")
		}
		_, err := client.RenameRoom(ctx, view.Room().UUID, arg)
		return false, err
	case "/leave":
		view := client.View()
		if view == nil {
			return false, fmt.Errorf("no room open")
		}
		return false, client.LeaveRoom(ctx, view.Room().UUID)
	case "/block":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return false, fmt.Errorf("invalid user id %q", arg)
		}
		return false, client.BlockUser(ctx, id)
	case "/close":
		client.CloseRoom()
	default:
		fmt.Print(usage)
	}
	return false, nil
}

func open(ctx context.Context, client *chat.Client, roomUUID string) error {
	view, err := client.OpenRoom(ctx, roomUUID)
	if err != nil {
		return err
	}
	userID := client.UserID()
	view.OnChange(func() { printView(userID, view) })
	printView(userID, view)
	return nil
}

func printRooms(client *chat.Client) {
	agg := client.Inbox()
	fmt.Printf("Rooms (%s unread)\n", inbox.BadgeLabel(agg.TotalUnread()))
	for _, r := range agg.Rooms() {
		fmt.Printf("  %s  %-20s %3d  %s\n", r.UUID, r.DisplayName(client.UserID()), r.UnreadCount, r.LastMessage)
	}
}

func printView(userID int64, view *roomview.View) {
	room := view.Room()
	fmt.Printf("\n== %s ==\n", room.DisplayName(userID))
	n := 0
	for _, day := range view.Days(nil) {
		fmt.Printf("-- %s --\n", day.Date.Format("2006-01-02"))
		for _, e := range day.Entries {
			n++
			status := ""
			switch {
			case e.Pending():
				status = " (sending)"
			case e.IsMine && room.IsGroup() && e.UnreadByPeers() > 0:
				status = fmt.Sprintf(" (%d)", e.UnreadByPeers())
			case e.IsMine && !room.IsGroup() && !e.IsRead:
				status = " (1)"
			}
			sender := e.SenderName
			if e.IsMine {
				sender = "me"
			}
			fmt.Printf("%3d %s %s: %s%s\n", n, e.CreatedAt.Format("15:04"), sender, e.Content, status)
		}
	}
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no user ids")
	}
	return ids, nil
}
