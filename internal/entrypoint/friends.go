package entrypoint

import (
	"context"
	"fmt"

	"github.com/cozmonaut/cozmonaut/internal/db"
)

// withDB loads configuration and opens the database for a friend operation.
func (r *Runner) withDB(args Args, fn func(store *db.DB) int) int {
	cfg, err := loadConfig(args)
	if err != nil {
		r.errorf("%v", err)
		return ExitUsage
	}
	store, err := openDB(cfg)
	if err != nil {
		r.errorf("%v", err)
		return ExitFailure
	}
	defer store.Close()
	return fn(store)
}

// friendList prints every friend, or only friend_id when given.
func (r *Runner) friendList(ctx context.Context, args Args) int {
	id, one, err := args.Int64("friend_id")
	if err != nil {
		r.errorf("%v", err)
		return ExitUsage
	}
	return r.withDB(args, func(store *db.DB) int {
		if one {
			f, err := store.GetFriend(ctx, id)
			if err != nil {
				r.errorf("%v", err)
				return ExitFailure
			}
			fmt.Fprintln(r.stdout(), f)
			return ExitOK
		}
		friends, err := store.ListFriends(ctx)
		if err != nil {
			r.errorf("%v", err)
			return ExitFailure
		}
		if len(friends) == 0 {
			fmt.Fprintln(r.stdout(), "no friends yet")
		}
		for _, f := range friends {
			fmt.Fprintln(r.stdout(), f)
		}
		return ExitOK
	})
}

func (r *Runner) friendRemove(ctx context.Context, args Args) int {
	id, ok, err := args.Int64("friend_id")
	switch {
	case err != nil:
		r.errorf("%v", err)
		return ExitUsage
	case !ok:
		r.errorf("friend-remove requires friend_id")
		return ExitUsage
	}
	return r.withDB(args, func(store *db.DB) int {
		if err := store.RemoveFriend(ctx, id); err != nil {
			r.errorf("%v", err)
			return ExitFailure
		}
		fmt.Fprintf(r.stdout(), "removed friend %d\n", id)
		return ExitOK
	})
}

func (r *Runner) friendAdd(ctx context.Context, args Args) int {
	if args["name"] == "" {
		r.errorf("friend-add requires name")
		return ExitUsage
	}
	return r.withDB(args, func(store *db.DB) int {
		f, err := store.CreateFriend(ctx, args["name"])
		if err != nil {
			r.errorf("%v", err)
			return ExitFailure
		}
		fmt.Fprintln(r.stdout(), f)
		return ExitOK
	})
}
