package service

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid/v5"

	"github.com/avolkov/wirechat/internal/errs"
	"github.com/avolkov/wirechat/internal/model"
	"github.com/avolkov/wirechat/internal/repository"
)

type fakeConversationRepo struct {
	getOut *model.Conversation
	getErr error

	directOut model.Conversation
	directErr error

	renamedID   uuid.UUID
	renamedName string
	renameErr   error

	deletedID uuid.UUID
	deleteErr error
}

var _ repository.ConversationRepository = (*fakeConversationRepo)(nil)

func (f *fakeConversationRepo) Get(_ context.Context, _ uuid.UUID) (*model.Conversation, error) {
	return f.getOut, f.getErr
}
func (f *fakeConversationRepo) CreateDirect(_ context.Context, _, _ uuid.UUID) (model.Conversation, error) {
	return f.directOut, f.directErr
}
func (f *fakeConversationRepo) CreateGroup(_ context.Context, name string, creator uuid.UUID) (model.Conversation, error) {
	return model.Conversation{Type: model.ConversationGroup, Name: name, CreatedBy: creator}, nil
}
func (f *fakeConversationRepo) Rename(_ context.Context, id uuid.UUID, name string) error {
	f.renamedID, f.renamedName = id, name
	return f.renameErr
}
func (f *fakeConversationRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.deletedID = id
	return f.deleteErr
}

func TestRooms_Rename_RequiresPrivilege(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conv := uuid.Must(uuid.NewV4())
	admin := uuid.Must(uuid.NewV4())
	member := uuid.Must(uuid.NewV4())

	members := &fakeMembershipRepo{roles: map[[2]uuid.UUID]model.Role{
		{conv, admin}:  model.RoleAdmin,
		{conv, member}: model.RoleMember,
	}}
	convs := &fakeConversationRepo{}
	s := NewRooms(convs, members)

	if err := s.Rename(ctx, member, conv, "new name"); !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("member rename: want ErrNotAuthorized, got %v", err)
	}
	if err := s.Rename(ctx, admin, conv, "new name"); err != nil {
		t.Fatalf("admin rename: %v", err)
	}
	if convs.renamedID != conv || convs.renamedName != "new name" {
		t.Fatalf("rename not delegated: %v %q", convs.renamedID, convs.renamedName)
	}
}

func TestRooms_Rename_Outsider(t *testing.T) {
	t.Parallel()
	conv := uuid.Must(uuid.NewV4())
	outsider := uuid.Must(uuid.NewV4())
	s := NewRooms(&fakeConversationRepo{}, &fakeMembershipRepo{roles: map[[2]uuid.UUID]model.Role{}})

	if err := s.Rename(context.Background(), outsider, conv, "x"); !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("want ErrNotAuthorized, got %v", err)
	}
}

func TestRooms_AddParticipant_Privilege(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conv := uuid.Must(uuid.NewV4())
	creator := uuid.Must(uuid.NewV4())
	member := uuid.Must(uuid.NewV4())
	newcomer := uuid.Must(uuid.NewV4())

	members := &fakeMembershipRepo{roles: map[[2]uuid.UUID]model.Role{
		{conv, creator}: model.RoleCreator,
		{conv, member}:  model.RoleMember,
	}}
	s := NewRooms(&fakeConversationRepo{}, members)

	if err := s.AddParticipant(ctx, member, conv, newcomer); !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("member add: want ErrNotAuthorized, got %v", err)
	}
	if err := s.AddParticipant(ctx, creator, conv, newcomer); err != nil {
		t.Fatalf("creator add: %v", err)
	}
	if members.addedWho != newcomer || members.addedRole != model.RoleMember {
		t.Fatalf("add not delegated: %+v", members)
	}
}

func TestRooms_AddParticipant_CapSurfaced(t *testing.T) {
	t.Parallel()
	conv := uuid.Must(uuid.NewV4())
	creator := uuid.Must(uuid.NewV4())
	members := &fakeMembershipRepo{
		roles:  map[[2]uuid.UUID]model.Role{{conv, creator}: model.RoleCreator},
		addErr: errs.ErrValidationFailed,
	}
	s := NewRooms(&fakeConversationRepo{}, members)

	err := s.AddParticipant(context.Background(), creator, conv, uuid.Must(uuid.NewV4()))
	if !errors.Is(err, errs.ErrValidationFailed) {
		t.Fatalf("want cap error passed through, got %v", err)
	}
}

func TestRooms_RemoveParticipant_SelfLeave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conv := uuid.Must(uuid.NewV4())
	member := uuid.Must(uuid.NewV4())

	members := &fakeMembershipRepo{roles: map[[2]uuid.UUID]model.Role{
		{conv, member}: model.RoleMember,
	}}
	convs := &fakeConversationRepo{getOut: &model.Conversation{ID: conv, Type: model.ConversationGroup}}
	s := NewRooms(convs, members)

	if err := s.RemoveParticipant(ctx, member, conv, member); err != nil {
		t.Fatalf("self leave: %v", err)
	}
	if members.removedWho != member {
		t.Fatalf("remove not delegated")
	}
}

func TestRooms_RemoveParticipant_DirectImmutable(t *testing.T) {
	t.Parallel()
	conv := uuid.Must(uuid.NewV4())
	member := uuid.Must(uuid.NewV4())
	convs := &fakeConversationRepo{getOut: &model.Conversation{ID: conv, Type: model.ConversationDirect}}
	s := NewRooms(convs, &fakeMembershipRepo{roles: map[[2]uuid.UUID]model.Role{
		{conv, member}: model.RoleMember,
	}})

	err := s.RemoveParticipant(context.Background(), member, conv, member)
	if !errors.Is(err, errs.ErrValidationFailed) {
		t.Fatalf("want ErrValidationFailed for direct membership change, got %v", err)
	}
}

func TestRooms_OpenDirect_EmptyPeer(t *testing.T) {
	t.Parallel()
	s := NewRooms(&fakeConversationRepo{}, &fakeMembershipRepo{})
	_, err := s.OpenDirect(context.Background(), uuid.Must(uuid.NewV4()), uuid.Nil)
	if !errors.Is(err, errs.ErrValidationFailed) {
		t.Fatalf("want ErrValidationFailed, got %v", err)
	}
}
