package hub

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"realtime-service/internal/domain"
	"realtime-service/internal/repository"
)

// MockUserDirectory is a mock implementation of UserDirectory
type MockUserDirectory struct {
	mock.Mock
}

func (m *MockUserDirectory) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func TestRegistry_Authenticate(t *testing.T) {
	doctor := &domain.User{ID: "d1", Name: "Dr. Kim", Role: domain.RoleDoctor}

	tests := []struct {
		name    string
		userID  string
		role    domain.Role
		setup   func(m *MockUserDirectory)
		wantErr error
	}{
		{
			name:   "matching role",
			userID: "d1",
			role:   domain.RoleDoctor,
			setup: func(m *MockUserDirectory) {
				m.On("FindUserByID", mock.Anything, "d1").Return(doctor, nil)
			},
		},
		{
			name:   "role mismatch",
			userID: "d1",
			role:   domain.RolePatient,
			setup: func(m *MockUserDirectory) {
				m.On("FindUserByID", mock.Anything, "d1").Return(doctor, nil)
			},
			wantErr: ErrAuthFailed,
		},
		{
			name:   "unknown user",
			userID: "ghost",
			role:   domain.RolePatient,
			setup: func(m *MockUserDirectory) {
				m.On("FindUserByID", mock.Anything, "ghost").Return(nil, repository.ErrUserNotFound)
			},
			wantErr: ErrAuthFailed,
		},
		{
			name:   "directory failure",
			userID: "d1",
			role:   domain.RoleDoctor,
			setup: func(m *MockUserDirectory) {
				m.On("FindUserByID", mock.Anything, "d1").Return(nil, errors.New("connection refused"))
			},
			wantErr: ErrLookupFailed,
		},
		{
			name:    "invalid role never reaches the directory",
			userID:  "d1",
			role:    domain.RoleAI,
			setup:   func(m *MockUserDirectory) {},
			wantErr: ErrAuthFailed,
		},
		{
			name:    "empty user id",
			userID:  "",
			role:    domain.RoleDoctor,
			setup:   func(m *MockUserDirectory) {},
			wantErr: ErrAuthFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := new(MockUserDirectory)
			tt.setup(users)
			r := NewRegistry(users, nil, zap.NewNop())
			require.NoError(t, r.Register("c1", &fakeSink{}))

			id, err := bindVerified(context.Background(), r, "c1", tt.userID, tt.role)
			entry, _ := r.Get("c1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrAuthFailed)
				assert.False(t, entry.Identity.Authenticated())
				assert.Empty(t, r.LookupByUserID(tt.userID))
			} else {
				require.NoError(t, err)
				assert.Equal(t, Identity{UserID: "d1", Role: domain.RoleDoctor, Name: "Dr. Kim"}, id)
				assert.Equal(t, id, entry.Identity)
				assert.Equal(t, []string{"c1"}, r.LookupByUserID("d1"))
			}
			users.AssertExpectations(t)
		})
	}
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry(newFakeDirectory(), nil, zap.NewNop())

	require.NoError(t, r.Register("c1", &fakeSink{}))
	assert.ErrorIs(t, r.Register("c1", &fakeSink{}), ErrDuplicateConn)
	assert.ErrorIs(t, r.Register("", &fakeSink{}), ErrUnknownConnection)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_LookupByUserIDIsMultiTab(t *testing.T) {
	r := NewRegistry(newFakeDirectory(testUsers()...), nil, zap.NewNop())
	ctx := context.Background()

	for _, connID := range []string{"tab-b", "tab-a", "other"} {
		require.NoError(t, r.Register(connID, &fakeSink{}))
	}
	_, err := bindVerified(ctx, r, "tab-b", doctorID, domain.RoleDoctor)
	require.NoError(t, err)
	_, err = bindVerified(ctx, r, "tab-a", doctorID, domain.RoleDoctor)
	require.NoError(t, err)
	_, err = bindVerified(ctx, r, "other", patientID, domain.RolePatient)
	require.NoError(t, err)

	assert.Equal(t, []string{"tab-a", "tab-b"}, r.LookupByUserID(doctorID))
	assert.Equal(t, []string{"other"}, r.ConnectionsByRole(domain.RolePatient))
	assert.Equal(t, 3, r.AuthenticatedCount())

	// Re-authenticating as someone else moves the connection.
	_, err = bindVerified(ctx, r, "tab-b", "d2", domain.RoleDoctor)
	require.NoError(t, err)
	assert.Equal(t, []string{"tab-a"}, r.LookupByUserID(doctorID))
	assert.Equal(t, []string{"tab-b"}, r.LookupByUserID("d2"))
}

func TestRegistry_RemoveReturnsEntryOnce(t *testing.T) {
	r := NewRegistry(newFakeDirectory(testUsers()...), nil, zap.NewNop())
	require.NoError(t, r.Register("c1", &fakeSink{}))
	_, err := bindVerified(context.Background(), r, "c1", patientID, domain.RolePatient)
	require.NoError(t, err)
	r.SetSessionRoom("c1", "patient-doctor-room-d1")

	entry, ok := r.Remove("c1")
	require.True(t, ok)
	assert.Equal(t, patientID, entry.Identity.UserID)
	assert.Equal(t, "patient-doctor-room-d1", entry.SessionRoom)

	_, ok = r.Remove("c1")
	assert.False(t, ok)
	assert.Empty(t, r.LookupByUserID(patientID))
	assert.Zero(t, r.Count())
}

func TestRegistry_SendClosesFullConnection(t *testing.T) {
	r := NewRegistry(newFakeDirectory(), nil, zap.NewNop())
	ok := &fakeSink{}
	full := &fakeSink{full: true}
	require.NoError(t, r.Register("ok", ok))
	require.NoError(t, r.Register("full", full))

	assert.True(t, r.Send("ok", []byte(`{"event":"x"}`)))
	assert.False(t, r.Send("full", []byte(`{"event":"x"}`)))
	assert.False(t, r.Send("missing", []byte(`{"event":"x"}`)))

	assert.True(t, full.isClosed())
	assert.False(t, ok.isClosed())
}

func TestRegistry_BindUnknownConnection(t *testing.T) {
	r := NewRegistry(newFakeDirectory(), nil, zap.NewNop())
	_, err := r.Bind("nope", Identity{UserID: "u"})
	assert.ErrorIs(t, err, ErrUnknownConnection)
}
