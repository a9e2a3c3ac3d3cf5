//go:build integration

package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestRepository starts a disposable postgres container and returns a
// migrated repository connected to it.
func newTestRepository(t *testing.T, driver string) *PgChatRepository {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_DB":       "roomchat",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/roomchat?sslmode=disable", host, port.Port())
	repo, err := NewPgChatRepository(ctx, driver, dsn)
	require.NoError(t, err, "failed to connect to postgres")
	t.Cleanup(func() { repo.Close() })

	require.NoError(t, repo.ApplyMigrations(), "failed to apply migrations")
	return repo
}

func TestPgChatRepository_Integration(t *testing.T) {
	for _, driver := range []string{"postgres", "pgx"} {
		t.Run(driver, func(t *testing.T) {
			repo := newTestRepository(t, driver)
			ctx := context.Background()

			alice, err := repo.CreateUser(ctx, CreateUserParams{Name: "alice", Email: "Alice@Example.com", PasswordHash: "hash"})
			require.NoError(t, err)
			assert.Equal(t, "alice@example.com", alice.Email, "expected email to be stored lower case")
			assert.True(t, alice.Active, "expected new user to be active")

			_, err = repo.CreateUser(ctx, CreateUserParams{Name: "alice2", Email: "alice@example.com", PasswordHash: "hash"})
			assert.ErrorIs(t, err, ErrDuplicateEmail, "expected duplicate email to be rejected")

			bob, err := repo.CreateUser(ctx, CreateUserParams{Name: "bob", Email: "bob@example.com", PasswordHash: "hash"})
			require.NoError(t, err)

			t.Run("search", func(t *testing.T) {
				users, err := repo.SearchUsers(ctx, "ALI", 20)
				require.NoError(t, err)
				require.Len(t, users, 1)
				assert.Equal(t, alice.Id, users[0].Id)
			})

			t.Run("profile", func(t *testing.T) {
				u, err := repo.UpdateProfile(ctx, bob.Id, Profile{Bio: "hello", Interests: []string{"go"}})
				require.NoError(t, err)
				assert.Equal(t, "hello", u.Profile.Bio)

				name := "robert"
				u, err = repo.UpdateUser(ctx, UpdateUserParams{UserId: bob.Id, Name: &name})
				require.NoError(t, err)
				assert.Equal(t, "robert", u.Name)
				assert.Equal(t, "bob@example.com", u.Email, "expected untouched email to be kept")
				assert.Equal(t, "hello", u.Profile.Bio, "expected profile to be kept")
			})

			room, err := repo.CreateRoom(ctx, CreateRoomParams{ExternalId: "room-" + driver, Name: "general", CreatorId: alice.Id})
			require.NoError(t, err)
			assert.Equal(t, RoomKindRoom, room.Kind)
			assert.Equal(t, []Participant{{Id: alice.Id, Name: "alice"}}, room.Participants, "expected creator to be a participant")

			t.Run("concurrent joins do not duplicate", func(t *testing.T) {
				var (
					wg    sync.WaitGroup
					mu    sync.Mutex
					added int
				)
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						ok, err := repo.AddParticipant(ctx, room.Id, bob.Id)
						assert.NoError(t, err)
						if ok {
							mu.Lock()
							added++
							mu.Unlock()
						}
					}()
				}
				wg.Wait()

				assert.Equal(t, 1, added, "expected exactly one join to insert a row")
				loaded, err := repo.GetRoomByExternalId(ctx, room.ExternalId)
				require.NoError(t, err)
				assert.Len(t, loaded.Participants, 2)
			})

			t.Run("messages keep insertion order", func(t *testing.T) {
				for i := 1; i <= 3; i++ {
					msg, err := repo.CreateMessage(ctx, CreateMessageParams{RoomId: room.Id, SenderId: bob.Id, Content: fmt.Sprintf("m%d", i)})
					require.NoError(t, err)
					assert.Equal(t, i, msg.SeqId)
					assert.Equal(t, "robert", msg.Sender.Name)
				}

				msgs, err := repo.ListMessages(ctx, ListMessagesParams{RoomId: room.Id})
				require.NoError(t, err)
				require.Len(t, msgs, 3)
				assert.Equal(t, "m1", msgs[0].Content)
				assert.Equal(t, "m3", msgs[2].Content)

				page, err := repo.ListMessages(ctx, ListMessagesParams{RoomId: room.Id, Before: 3, Limit: 1})
				require.NoError(t, err)
				require.Len(t, page, 1)
				assert.Equal(t, "m2", page[0].Content)

				edited, err := repo.UpdateMessageContent(ctx, msgs[0].Id, "edited")
				require.NoError(t, err)
				assert.Equal(t, "edited", edited.Content)

				require.NoError(t, repo.DeleteMessage(ctx, msgs[1].Id))
				_, err = repo.GetMessage(ctx, msgs[1].Id)
				assert.ErrorIs(t, err, ErrNotFound)

				msgs, err = repo.ListMessages(ctx, ListMessagesParams{RoomId: room.Id})
				require.NoError(t, err)
				assert.Len(t, msgs, 2, "expected deleted message to leave the room history")
			})

			t.Run("room lists", func(t *testing.T) {
				rooms, err := repo.ListRoomsForUser(ctx, bob.Id)
				require.NoError(t, err)
				require.Len(t, rooms, 1)

				left, err := repo.RemoveParticipant(ctx, room.Id, bob.Id)
				require.NoError(t, err)
				assert.True(t, left)

				rooms, err = repo.ListRoomsForUser(ctx, bob.Id)
				require.NoError(t, err)
				assert.Empty(t, rooms)
			})

			t.Run("delete room cascades", func(t *testing.T) {
				msg, err := repo.CreateMessage(ctx, CreateMessageParams{RoomId: room.Id, SenderId: alice.Id, Content: "bye"})
				require.NoError(t, err)

				require.NoError(t, repo.DeleteRoom(ctx, room.Id))
				_, err = repo.GetRoomByExternalId(ctx, room.ExternalId)
				assert.ErrorIs(t, err, ErrNotFound)
				_, err = repo.GetMessage(ctx, msg.Id)
				assert.ErrorIs(t, err, ErrNotFound, "expected messages to be deleted with the room")

				_, err = repo.CreateMessage(ctx, CreateMessageParams{RoomId: room.Id, SenderId: alice.Id, Content: "late"})
				assert.ErrorIs(t, err, ErrNotFound, "expected append to a deleted room to fail")
			})

			t.Run("deactivate", func(t *testing.T) {
				require.NoError(t, repo.DeactivateUser(ctx, bob.Id))
				u, err := repo.GetUserById(ctx, bob.Id)
				require.NoError(t, err)
				assert.False(t, u.Active)

				users, err := repo.SearchUsers(ctx, "rob", 20)
				require.NoError(t, err)
				assert.Empty(t, users, "expected deactivated users to be hidden from search")
			})
		})
	}
}
