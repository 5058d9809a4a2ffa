package notify

import (
	"context"
	"errors"
	"testing"
)

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	var got []string
	ok := Func(func(_ context.Context, n Notification) error {
		got = append(got, n.Title)
		return nil
	})
	boom := errors.New("boom")
	failing := Func(func(context.Context, Notification) error { return boom })

	err := Multi{ok, failing, Log{}, ok}.Notify(context.Background(), Notification{Kind: KindSuccess, Title: "Attendance marked"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both good notifiers to run, got %v", got)
	}
}
