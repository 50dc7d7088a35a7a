package session

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/lucidbank/backend/internal/models"
)

// compareAndDelete removes a user's directory entry only while it still
// points at the calling instance, so an instance shutting down late cannot
// evict a newer registration made by another instance.
const compareAndDelete = `
if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
  redis.call('HDEL', KEYS[1], ARGV[1])
  redis.call('HDEL', KEYS[2], ARGV[1])
  redis.call('SREM', KEYS[3], ARGV[1])
  return 1
end
return 0
`

// Directory is the shared mapping from a user to the instance currently
// holding their live connection. It is a routing aid, not a source of truth:
// losing an entry costs a notification, never ledger state. Registration is
// last-writer-wins; a reconnect elsewhere simply overwrites.
type Directory struct {
	rdb        *redis.Client
	instanceID string

	tasksKey     string
	usernamesKey string
	adminsKey    string
}

func NewDirectory(rdb *redis.Client, stackName, instanceID string) *Directory {
	return &Directory{
		rdb:          rdb,
		instanceID:   instanceID,
		tasksKey:     fmt.Sprintf("%s:clientsTasksMap()", stackName),
		usernamesKey: fmt.Sprintf("%s:clientsUsernamesMap()", stackName),
		adminsKey:    fmt.Sprintf("%s:adminClients()", stackName),
	}
}

// InstanceID identifies the local instance inside the directory.
func (d *Directory) InstanceID() string {
	return d.instanceID
}

// Register binds userID to this instance, overwriting any previous owner.
func (d *Directory) Register(ctx context.Context, userID, userName string, isAdmin bool) error {
	if err := d.rdb.HSet(ctx, d.tasksKey, userID, d.instanceID).Err(); err != nil {
		return fmt.Errorf("directory register: %w", err)
	}
	if err := d.rdb.HSet(ctx, d.usernamesKey, userID, userName).Err(); err != nil {
		return fmt.Errorf("directory register username: %w", err)
	}
	if isAdmin {
		if err := d.rdb.SAdd(ctx, d.adminsKey, userID).Err(); err != nil {
			return fmt.Errorf("directory register admin: %w", err)
		}
	}
	return nil
}

// Lookup returns the instance currently owning the user's connection.
func (d *Directory) Lookup(ctx context.Context, userID string) (string, bool, error) {
	instanceID, err := d.rdb.HGet(ctx, d.tasksKey, userID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("directory lookup: %w", err)
	}
	return instanceID, true, nil
}

// Unregister deletes the user's entry only if this instance still owns it.
// It reports whether the entry was actually removed.
func (d *Directory) Unregister(ctx context.Context, userID string) (bool, error) {
	removed, err := d.rdb.Eval(ctx, compareAndDelete,
		[]string{d.tasksKey, d.usernamesKey, d.adminsKey},
		userID, d.instanceID).Int()
	if err != nil {
		return false, fmt.Errorf("directory unregister: %w", err)
	}
	return removed == 1, nil
}

// Connections snapshots every connected user and display name, for the
// privileged connections frame.
func (d *Directory) Connections(ctx context.Context) ([]models.Connection, error) {
	usernames, err := d.rdb.HGetAll(ctx, d.usernamesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("directory connections: %w", err)
	}
	connections := make([]models.Connection, 0, len(usernames))
	for userID, userName := range usernames {
		connections = append(connections, models.Connection{ConnectionID: userID, Username: userName})
	}
	return connections, nil
}

// Admins lists the privileged users currently connected anywhere in the stack.
func (d *Directory) Admins(ctx context.Context) ([]string, error) {
	admins, err := d.rdb.SMembers(ctx, d.adminsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("directory admins: %w", err)
	}
	return admins, nil
}
