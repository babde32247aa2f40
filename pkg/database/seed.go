package database

import (
	"context"
	"fmt"
	"log"

	"matjip-chat/internal/domain"
	"matjip-chat/internal/repository"
)

// SeedResult holds the result of the seeding operation
type SeedResult struct {
	Users    []domain.User
	Rooms    []domain.Room
	Messages int
}

var devUsers = []domain.User{
	{ID: 1, Name: "Mina"},
	{ID: 2, Name: "Jun"},
	{ID: 3, Name: "Seo-yeon"},
	{ID: 4, Name: "Tae"},
}

// SeedDevelopment creates a handful of users, one direct room and one group room.
func SeedDevelopment(ctx context.Context, repos repository.Repositories) (*SeedResult, error) {
	result := &SeedResult{}
	for _, u := range devUsers {
		if err := repos.Users.Upsert(ctx, u); err != nil {
			return nil, fmt.Errorf("failed to seed user %d: %w", u.ID, err)
		}
		result.Users = append(result.Users, u)
	}

	direct, err := repos.Rooms.FindDirect(ctx, 1, 2)
	if err != nil {
		direct = domain.Room{Type: domain.RoomTypeDirect}
		if err := repos.Rooms.Create(ctx, &direct, 1, []int64{1, 2}); err != nil {
			return nil, fmt.Errorf("failed to seed direct room: %w", err)
		}
	}
	group := domain.Room{Type: domain.RoomTypeGroup, Name: "Friday dinner"}
	if err := repos.Rooms.Create(ctx, &group, 1, []int64{1, 2, 3, 4}); err != nil {
		return nil, fmt.Errorf("failed to seed group room: %w", err)
	}
	result.Rooms = append(result.Rooms, direct, group)

	lines := []struct {
		room   domain.Room
		sender int64
		text   string
	}{
		{direct, 1, "Found a new naengmyeon place"},
		{direct, 2, "Where?"},
		{group, 3, "Friday 7pm?"},
		{group, 4, "I'm in"},
	}
	for _, l := range lines {
		m := domain.Message{RoomID: l.room.ID, SenderID: l.sender, Content: l.text}
		if err := repos.Messages.Create(ctx, &m); err != nil {
			return nil, fmt.Errorf("failed to seed message: %w", err)
		}
		result.Messages++
	}

	log.Printf("Seeded %d users, %d rooms, %d messages", len(result.Users), len(result.Rooms), result.Messages)
	return result, nil
}
