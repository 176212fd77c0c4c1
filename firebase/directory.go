package firebase

import (
	"context"
	"fmt"
	"slices"
)

// Directory resolves recipients from the users node:
//
//	users/{uid}/friends/{friendUid}: true
//	users/{friendUid}/fcmToken: "<device token>"
type Directory struct {
	users Node
}

func NewDirectory(users Node) *Directory { return &Directory{users: users} }

func (d *Directory) TokensFor(ctx context.Context, subjectID string) ([]string, error) {
	var friends map[string]bool
	if err := d.users.Child(subjectID).Child("friends").Get(ctx, &friends); err != nil {
		return nil, fmt.Errorf("firebase: read friends of %q: %w", subjectID, err)
	}
	ids := make([]string, 0, len(friends))
	for id, ok := range friends {
		if ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		var token string
		if err := d.users.Child(id).Child("fcmToken").Get(ctx, &token); err != nil {
			return nil, fmt.Errorf("firebase: read token of %q: %w", id, err)
		}
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}
