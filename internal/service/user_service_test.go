package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"user_directory/internal/model"
	"user_directory/internal/repository"
	"user_directory/internal/utils"
	"user_directory/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memoryRepo is a UserRepository whose Create enforces email uniqueness under a lock,
// the way a unique index does.
type memoryRepo struct {
	mu    sync.Mutex
	users map[string]model.User
	// hideFromCount makes CountByEmail always report 0, simulating two registrations
	// that both passed the pre-check.
	hideFromCount bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: make(map[string]model.User)}
}

func (r *memoryRepo) CountByEmail(_ context.Context, email string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[email]; ok && !r.hideFromCount {
		return 1, nil
	}
	return 0, nil
}

func (r *memoryRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[email]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *memoryRepo) FindByToken(_ context.Context, token string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Token != nil && *u.Token == token {
			found := u
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.Email]; ok {
		return repository.ErrEmailTaken
	}
	user.ID = len(r.users) + 1
	r.users[user.Email] = *user
	return nil
}

func (r *memoryRepo) Update(_ context.Context, email string, patch model.UserPatch) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[email]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Phone != nil {
		u.Phone = *patch.Phone
	}
	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
	}
	if patch.Role != nil {
		u.Role = *patch.Role
	}
	if patch.Token != nil {
		token := *patch.Token
		u.Token = &token
	}
	r.users[email] = u
	return &u, nil
}

func (r *memoryRepo) Delete(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[email]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	delete(r.users, email)
	return &u, nil
}

func (r *memoryRepo) Ping(context.Context) error { return nil }

type failingRepo struct {
	*memoryRepo
	err error
}

func (r *failingRepo) FindByEmail(context.Context, string) (*model.User, error) { return nil, r.err }
func (r *failingRepo) CountByEmail(context.Context, string) (int, error)        { return 0, r.err }

func newTestService(repo repository.UserRepository) UserService {
	return NewUserService(repo, validation.New(), utils.NewPasswordHasher(bcrypt.MinCost), utils.NewTokenIssuer())
}

func registerReq(email string) model.RegisterRequest {
	return model.RegisterRequest{
		Email:    email,
		Name:     "A",
		Phone:    "1234567",
		Password: "pw",
		Role:     model.RoleClient,
	}
}

func strPtr(s string) *string { return &s }

func TestRegister_Success(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	profile, err := svc.Register(context.Background(), registerReq("a@x.com"))
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", profile.Email)
	assert.Equal(t, model.RoleClient, profile.Role)
	require.NotNil(t, profile.Token)

	stored := repo.users["a@x.com"]
	assert.NotEqual(t, "pw", *profile.Token)
	assert.NotEqual(t, stored.PasswordHash, *profile.Token)
	assert.NotEqual(t, "pw", stored.PasswordHash)
	assert.Equal(t, *profile.Token, *stored.Token)
}

func TestRegister_DistinctEmails(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	tokens := map[string]struct{}{}
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		profile, err := svc.Register(context.Background(), registerReq(email))
		require.NoError(t, err)
		require.NotNil(t, profile.Token)
		tokens[*profile.Token] = struct{}{}
	}
	assert.Len(t, tokens, 3)
}

func TestRegister_Duplicate(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	_, err := svc.Register(context.Background(), registerReq("a@x.com"))
	require.NoError(t, err)
	first := repo.users["a@x.com"]

	req := registerReq("a@x.com")
	req.Name = "Other"
	_, err = svc.Register(context.Background(), req)
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	assert.Len(t, repo.users, 1)
	assert.Equal(t, first, repo.users["a@x.com"])
}

func TestRegister_DuplicateDecidedByStore(t *testing.T) {
	repo := newMemoryRepo()
	repo.hideFromCount = true
	svc := newTestService(repo)

	_, err := svc.Register(context.Background(), registerReq("a@x.com"))
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), registerReq("a@x.com"))
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRegister_ConcurrentSameEmail(t *testing.T) {
	repo := newMemoryRepo()
	repo.hideFromCount = true
	svc := newTestService(repo)
	const workers = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Register(context.Background(), registerReq("race@x.com"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	}
	assert.Equal(t, 1, successes)
	assert.Len(t, repo.users, 1)
}

func TestRegister_ValidationRunsBeforeStore(t *testing.T) {
	repo := &failingRepo{memoryRepo: newMemoryRepo(), err: errors.New("store must not be called")}
	svc := newTestService(repo)

	_, err := svc.Register(context.Background(), model.RegisterRequest{})
	var verr *validation.Error
	assert.ErrorAs(t, err, &verr)
}

func TestRegister_StoreFailure(t *testing.T) {
	repo := &failingRepo{memoryRepo: newMemoryRepo(), err: errors.New("db down")}
	svc := newTestService(repo)

	_, err := svc.Register(context.Background(), registerReq("a@x.com"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateEmail)
}

func TestLogin_RotatesToken(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	registered, err := svc.Register(ctx, registerReq("a@x.com"))
	require.NoError(t, err)

	seen := map[string]struct{}{*registered.Token: {}}
	for i := 0; i < 3; i++ {
		profile, err := svc.Login(ctx, model.LoginRequest{Email: "a@x.com", Password: "pw"})
		require.NoError(t, err)
		require.NotNil(t, profile.Token)
		_, reused := seen[*profile.Token]
		assert.False(t, reused)
		seen[*profile.Token] = struct{}{}
		assert.Equal(t, *profile.Token, *repo.users["a@x.com"].Token)
	}
}

func TestLogin_InvalidCredentialsIndistinguishable(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.Register(ctx, registerReq("a@x.com"))
	require.NoError(t, err)

	_, wrongPassword := svc.Login(ctx, model.LoginRequest{Email: "a@x.com", Password: "wrong"})
	_, unknownEmail := svc.Login(ctx, model.LoginRequest{Email: "no_user@x.com", Password: "pw"})

	assert.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownEmail, ErrInvalidCredentials)
	assert.Equal(t, wrongPassword, unknownEmail)
}

func TestLogin_Validation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.Login(context.Background(), model.LoginRequest{Email: "", Password: ""})
	var verr *validation.Error
	assert.ErrorAs(t, err, &verr)
}

func TestLogin_MalformedStoredHash(t *testing.T) {
	repo := newMemoryRepo()
	repo.users["a@x.com"] = model.User{Email: "a@x.com", PasswordHash: "garbage", Role: model.RoleClient}
	svc := newTestService(repo)

	_, err := svc.Login(context.Background(), model.LoginRequest{Email: "a@x.com", Password: "pw"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestGetProfile_HidesSecrets(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	user := &model.User{Email: "a@x.com", Name: "A", Phone: "1234567", PasswordHash: "hash", Role: model.RoleWorker, Token: strPtr("tok")}

	profile := svc.GetProfile(user)
	assert.Equal(t, &model.UserResponse{Email: "a@x.com", Name: "A", Phone: "1234567", Role: model.RoleWorker}, profile)
}

func TestUpdateProfile_NameOnly(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	_, err := svc.Register(ctx, registerReq("a@x.com"))
	require.NoError(t, err)
	before := repo.users["a@x.com"]

	profile, err := svc.UpdateProfile(ctx, &before, model.UpdateUserRequest{Name: strPtr("X")})
	require.NoError(t, err)
	assert.Equal(t, "X", profile.Name)

	after := repo.users["a@x.com"]
	assert.Equal(t, before.Phone, after.Phone)
	assert.Equal(t, before.Role, after.Role)
	assert.Equal(t, before.PasswordHash, after.PasswordHash)
	assert.Equal(t, *before.Token, *after.Token)
}

func TestUpdateProfile_Password(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	_, err := svc.Register(ctx, registerReq("a@x.com"))
	require.NoError(t, err)
	user := repo.users["a@x.com"]

	_, err = svc.UpdateProfile(ctx, &user, model.UpdateUserRequest{Password: strPtr("Y")})
	require.NoError(t, err)

	hasher := utils.NewPasswordHasher(bcrypt.MinCost)
	stored := repo.users["a@x.com"].PasswordHash
	assert.NotEqual(t, "Y", stored)
	ok, err := hasher.Verify(ctx, "pw", stored)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = hasher.Verify(ctx, "Y", stored)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.Login(ctx, model.LoginRequest{Email: "a@x.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, model.LoginRequest{Email: "a@x.com", Password: "Y"})
	assert.NoError(t, err)
}

func TestUpdateProfile_Role(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	_, err := svc.Register(ctx, registerReq("a@x.com"))
	require.NoError(t, err)
	user := repo.users["a@x.com"]

	role := model.RoleAdmin
	profile, err := svc.UpdateProfile(ctx, &user, model.UpdateUserRequest{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, profile.Role)
	assert.Equal(t, "A", profile.Name)
}

func TestUpdateProfile_InvalidInputLeavesRecord(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	_, err := svc.Register(ctx, registerReq("a@x.com"))
	require.NoError(t, err)
	before := repo.users["a@x.com"]

	_, err = svc.UpdateProfile(ctx, &before, model.UpdateUserRequest{Name: strPtr("Z"), Phone: strPtr("1")})
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, before, repo.users["a@x.com"])
}

func TestUpdateProfile_UserGone(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ghost := &model.User{Email: "gone@x.com"}
	_, err := svc.UpdateProfile(context.Background(), ghost, model.UpdateUserRequest{Name: strPtr("X")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteByEmail(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	_, err := svc.Register(ctx, registerReq("a@x.com"))
	require.NoError(t, err)

	deleted, err := svc.DeleteByEmail(ctx, model.EmailRequest{Email: "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", deleted.Email)
	assert.Nil(t, deleted.Token)

	found, err := repo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, found)

	_, err = svc.DeleteByEmail(ctx, model.EmailRequest{Email: "a@x.com"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteByEmail_Validation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.DeleteByEmail(context.Background(), model.EmailRequest{})
	var verr *validation.Error
	assert.ErrorAs(t, err, &verr)
}

func TestFindByEmail(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.Register(ctx, registerReq("a@x.com"))
	require.NoError(t, err)

	profile, err := svc.FindByEmail(ctx, model.EmailRequest{Email: "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "A", profile.Name)
	assert.Nil(t, profile.Token)

	_, err = svc.FindByEmail(ctx, model.EmailRequest{Email: "A@X.COM"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthenticate(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	registered, err := svc.Register(ctx, registerReq("a@x.com"))
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, *registered.Token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", user.Email)

	_, err = svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "hello-guys")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Logging in supersedes the registration token.
	_, err = svc.Login(ctx, model.LoginRequest{Email: "a@x.com", Password: "pw"})
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, *registered.Token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestEndToEnd(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	registered, err := svc.Register(ctx, registerReq("a@x.com"))
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", registered.Email)
	require.NotNil(t, registered.Token)

	loggedIn, err := svc.Login(ctx, model.LoginRequest{Email: "a@x.com", Password: "pw"})
	require.NoError(t, err)
	assert.NotEqual(t, *registered.Token, *loggedIn.Token)

	_, err = svc.Login(ctx, model.LoginRequest{Email: "a@x.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.DeleteByEmail(ctx, model.EmailRequest{Email: "a@x.com"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, model.LoginRequest{Email: "a@x.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

var longPasswords = map[string]string{
	"ascii":     strings.Repeat("a", 100),
	"multibyte": strings.Repeat("é", 100),
}

func TestRegister_LongPasswordLogsIn(t *testing.T) {
	for name, password := range longPasswords {
		t.Run(name, func(t *testing.T) {
			svc := newTestService(newMemoryRepo())
			ctx := context.Background()

			req := registerReq("a@x.com")
			req.Password = password
			_, err := svc.Register(ctx, req)
			require.NoError(t, err)

			_, err = svc.Login(ctx, model.LoginRequest{Email: "a@x.com", Password: password})
			assert.NoError(t, err)
			_, err = svc.Login(ctx, model.LoginRequest{Email: "a@x.com", Password: "pw"})
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestUpdateProfile_LongPasswordLogsIn(t *testing.T) {
	for name, password := range longPasswords {
		t.Run(name, func(t *testing.T) {
			repo := newMemoryRepo()
			svc := newTestService(repo)
			ctx := context.Background()
			_, err := svc.Register(ctx, registerReq("a@x.com"))
			require.NoError(t, err)
			user := repo.users["a@x.com"]

			_, err = svc.UpdateProfile(ctx, &user, model.UpdateUserRequest{Password: strPtr(password)})
			require.NoError(t, err)

			_, err = svc.Login(ctx, model.LoginRequest{Email: "a@x.com", Password: password})
			assert.NoError(t, err)
		})
	}
}

type brokenHasher struct{}

func (brokenHasher) Hash(context.Context, string) (string, error) { return "", errors.New("boom") }
func (brokenHasher) Verify(context.Context, string, string) (bool, error) {
	return false, errors.New("boom")
}

func TestHasherErrorsWrappedOnce(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewUserService(repo, validation.New(), brokenHasher{}, utils.NewTokenIssuer())
	ctx := context.Background()

	_, err := svc.Register(ctx, registerReq("a@x.com"))
	assert.EqualError(t, err, "hash password for register: boom")

	user := model.User{Email: "a@x.com", PasswordHash: "h", Role: model.RoleClient}
	repo.users["a@x.com"] = user
	_, err = svc.UpdateProfile(ctx, &user, model.UpdateUserRequest{Password: strPtr("new")})
	assert.EqualError(t, err, "hash password for update: boom")

	_, err = svc.Login(ctx, model.LoginRequest{Email: "a@x.com", Password: "pw"})
	assert.EqualError(t, err, "verify password for login: boom")
}
