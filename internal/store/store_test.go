package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mossy-p/card-lobby/internal/models"
	"github.com/redis/go-redis/v9"
)

type backend struct {
	name string
	new  func(t *testing.T) Repository
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Repository {
			m, err := NewMemory()
			if err != nil {
				t.Fatalf("NewMemory: %v", err)
			}
			return m
		}},
		{"redis", func(t *testing.T) Repository {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedis(client, 0)
		}},
	}
}

func waitingRoom(code string, createdAt time.Time) *models.Room {
	return &models.Room{
		Code:      code,
		Title:     "table " + code,
		HostID:    "p1",
		HostName:  "Host",
		Status:    models.StatusWaiting,
		CreatedAt: createdAt,
		Capacity:  models.Capacity{Max: models.MaxPlayers},
	}
}

func addMember(id string) MutateFunc {
	return func(r *models.Room) error {
		if r.HasMember(id) {
			return ErrSkip
		}
		if r.Full() {
			return errFull
		}
		r.Members = append(r.Members, models.Player{ID: id, Name: id})
		return nil
	}
}

var errFull = errors.New("full")

func TestCreateAndGet(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.new(t)

			created, err := repo.Create(ctx, waitingRoom("AB12CD", time.Time{}))
			if err != nil {
				t.Fatalf("Create returned error: %v", err)
			}
			if created.Version != 1 || created.CreatedAt.IsZero() {
				t.Fatalf("created room not stamped: %+v", created)
			}

			got, err := repo.Get(ctx, "AB12CD")
			if err != nil {
				t.Fatalf("Get returned error: %v", err)
			}
			if got.Title != "table AB12CD" || got.Capacity.Current != 0 || got.Capacity.Max != 4 {
				t.Fatalf("unexpected room: %+v", got)
			}

			if _, err := repo.Get(ctx, "ZZZZZZ"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get missing = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.new(t)

			if _, err := repo.Create(ctx, waitingRoom("AB12CD", time.Time{})); err != nil {
				t.Fatalf("first Create: %v", err)
			}
			dup := waitingRoom("AB12CD", time.Time{})
			dup.Title = "impostor"
			if _, err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
				t.Fatalf("duplicate Create = %v, want ErrConflict", err)
			}

			got, _ := repo.Get(ctx, "AB12CD")
			if got.Title != "table AB12CD" {
				t.Fatalf("duplicate create overwrote room: %q", got.Title)
			}
		})
	}
}

func TestMutate(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.new(t)
			repo.Create(ctx, waitingRoom("AB12CD", time.Time{}))

			r, err := repo.Mutate(ctx, "AB12CD", addMember("p1"))
			if err != nil {
				t.Fatalf("Mutate returned error: %v", err)
			}
			if r.Capacity.Current != 1 || r.Version != 2 {
				t.Fatalf("capacity/version not maintained: %+v", r)
			}

			// Skip leaves the version untouched.
			r, err = repo.Mutate(ctx, "AB12CD", addMember("p1"))
			if err != nil {
				t.Fatalf("skip Mutate returned error: %v", err)
			}
			if r.Version != 2 || r.Capacity.Current != 1 {
				t.Fatalf("skip mutated room: %+v", r)
			}

			if _, err := repo.Mutate(ctx, "NOPE00", addMember("p1")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Mutate missing = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestMutateRejectsInvariantViolations(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.new(t)
			repo.Create(ctx, waitingRoom("AB12CD", time.Time{}))
			repo.Mutate(ctx, "AB12CD", addMember("p1"))

			cases := map[string]MutateFunc{
				"duplicate member": func(r *models.Room) error {
					r.Members = append(r.Members, models.Player{ID: "p1"})
					return nil
				},
				"over capacity": func(r *models.Room) error {
					for i := 0; i < 4; i++ {
						r.Members = append(r.Members, models.Player{ID: fmt.Sprintf("x%d", i)})
					}
					return nil
				},
				"code change": func(r *models.Room) error {
					r.Code = "OTHER1"
					return nil
				},
				"backwards status": func(r *models.Room) error {
					r.Status = models.StatusFinished
					return nil
				},
			}
			for name, fn := range cases {
				if name == "backwards status" {
					continue
				}
				if _, err := repo.Mutate(ctx, "AB12CD", fn); err == nil {
					t.Fatalf("%s: expected rejection", name)
				}
			}

			// finished -> waiting must be refused.
			if _, err := repo.Mutate(ctx, "AB12CD", cases["backwards status"]); err != nil {
				t.Fatalf("waiting -> finished refused: %v", err)
			}
			_, err := repo.Mutate(ctx, "AB12CD", func(r *models.Room) error {
				r.Status = models.StatusWaiting
				return nil
			})
			if !errors.Is(err, ErrTransition) {
				t.Fatalf("finished -> waiting = %v, want ErrTransition", err)
			}

			got, _ := repo.Get(ctx, "AB12CD")
			if len(got.Members) != 1 || got.Status != models.StatusFinished {
				t.Fatalf("rejected writes leaked: %+v", got)
			}
		})
	}
}

func TestMutateSerializesSameRoom(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.new(t)
			repo.Create(ctx, waitingRoom("AB12CD", time.Time{}))

			const n = 8
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				ok, rej int
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := repo.Mutate(ctx, "AB12CD", addMember(fmt.Sprintf("p%d", i)))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						ok++
					case errors.Is(err, errFull):
						rej++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()

			if ok != 4 || rej != n-4 {
				t.Fatalf("ok=%d rejected=%d, want 4 and %d", ok, rej, n-4)
			}
			got, _ := repo.Get(ctx, "AB12CD")
			if got.Capacity.Current != 4 || len(got.Members) != 4 {
				t.Fatalf("final capacity %+v with %d members", got.Capacity, len(got.Members))
			}
		})
	}
}

func TestList(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.new(t)
			base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

			repo.Create(ctx, waitingRoom("AAAAAA", base))
			repo.Create(ctx, waitingRoom("BBBBBB", base.Add(time.Minute)))
			private := waitingRoom("CCCCCC", base.Add(2*time.Minute))
			private.IsPrivate = true
			repo.Create(ctx, private)
			repo.Create(ctx, waitingRoom("DDDDDD", base.Add(3*time.Minute)))
			repo.Mutate(ctx, "DDDDDD", func(r *models.Room) error {
				r.Status = models.StatusFinished
				return nil
			})

			all, err := repo.List(ctx, ListFilter{})
			if err != nil {
				t.Fatalf("List returned error: %v", err)
			}
			if codes(all) != "DDDDDD,BBBBBB,AAAAAA" {
				t.Fatalf("public rooms = %s", codes(all))
			}

			waiting, _ := repo.List(ctx, ListFilter{Status: models.StatusWaiting, Limit: 1})
			if codes(waiting) != "BBBBBB" {
				t.Fatalf("waiting limit 1 = %s", codes(waiting))
			}

			withPrivate, _ := repo.List(ctx, ListFilter{Status: models.StatusWaiting, IncludePrivate: true})
			if codes(withPrivate) != "CCCCCC,BBBBBB,AAAAAA" {
				t.Fatalf("waiting incl. private = %s", codes(withPrivate))
			}
		})
	}
}

func TestRedisListPrunesExpiredRooms(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	repo := NewRedis(client, time.Hour)
	ctx := context.Background()

	repo.Create(ctx, waitingRoom("AAAAAA", time.Time{}))
	repo.Create(ctx, waitingRoom("BBBBBB", time.Time{}))
	mr.Del(roomKey("AAAAAA"))

	rooms, err := repo.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if codes(rooms) != "BBBBBB" {
		t.Fatalf("rooms = %s", codes(rooms))
	}
	if members, _ := mr.ZMembers(roomIndexKey); len(members) != 1 {
		t.Fatalf("index not pruned: %v", members)
	}
	if members, _ := mr.ZMembers(statusIndexKey(models.StatusWaiting)); len(members) != 1 {
		t.Fatalf("status index not pruned: %v", members)
	}
	if ttl := mr.TTL(roomKey("BBBBBB")); ttl != time.Hour {
		t.Fatalf("ttl = %s, want 1h", ttl)
	}
}

func TestRedisStatusIndexFollowsTransitions(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	repo := NewRedis(client, 0)
	ctx := context.Background()

	repo.Create(ctx, waitingRoom("AAAAAA", time.Time{}))
	repo.Create(ctx, waitingRoom("BBBBBB", time.Time{}))
	if _, err := repo.Mutate(ctx, "AAAAAA", func(r *models.Room) error {
		r.Status = models.StatusFinished
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	// A write that keeps the status leaves the indexes alone.
	if _, err := repo.Mutate(ctx, "BBBBBB", addMember("p1")); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	want := map[models.RoomStatus]string{
		models.StatusWaiting:  "BBBBBB",
		models.StatusFinished: "AAAAAA",
	}
	for status, code := range want {
		members, _ := mr.ZMembers(statusIndexKey(status))
		if len(members) != 1 || members[0] != code {
			t.Fatalf("%s index = %v, want [%s]", status, members, code)
		}
	}
	if mr.Exists(statusIndexKey(models.StatusInProgress)) {
		t.Fatal("in_progress index should be empty")
	}

	// A status-filtered list never reads rooms outside that status.
	mr.Set(roomKey("AAAAAA"), "not json")
	waiting, err := repo.List(ctx, ListFilter{Status: models.StatusWaiting})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if codes(waiting) != "BBBBBB" {
		t.Fatalf("waiting = %s", codes(waiting))
	}
}

func TestKeyedMutexReleasesKeys(t *testing.T) {
	k := NewKeyedMutex()
	unlock := k.Lock("a")
	if k.Len() != 1 {
		t.Fatalf("len = %d, want 1", k.Len())
	}
	unlock()
	if k.Len() != 0 {
		t.Fatalf("len = %d after unlock, want 0", k.Len())
	}
}

func codes(rooms []*models.Room) string {
	out := ""
	for i, r := range rooms {
		if i > 0 {
			out += ","
		}
		out += r.Code
	}
	return out
}
