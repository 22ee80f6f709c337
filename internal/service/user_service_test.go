package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freeeeeet/lesson_booking/internal/model"
)

func TestRegisterUser(t *testing.T) {
	f := newFixture(t)

	u, err := f.users.RegisterUser(f.ctx, "Maria", "Ivanova", nil)
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.False(t, u.IsInstructor)

	got, err := f.users.GetByID(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Maria", got.FirstName)

	_, err = f.users.RegisterUser(f.ctx, "", "Ivanova", nil)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.users.GetByID(f.ctx, 9999)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMakeInstructor(t *testing.T) {
	f := newFixture(t)
	u := f.newStudent(t, "Pavel")

	negative := int64(-1)
	_, err := f.users.MakeInstructor(f.ctx, u.ID, &negative)
	assert.ErrorIs(t, err, model.ErrValidation)

	instructor, err := f.users.MakeInstructor(f.ctx, u.ID, nil)
	require.NoError(t, err)
	assert.True(t, instructor.IsInstructor)
	assert.Nil(t, instructor.LessonRateCents)

	_, err = f.users.MakeInstructor(f.ctx, 9999, nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSetCardOnFile(t *testing.T) {
	f := newFixture(t)
	u := f.newStudent(t, "Pavel")

	assert.ErrorIs(t, f.users.SetCardOnFile(f.ctx, u.ID, ""), model.ErrValidation)
	require.NoError(t, f.users.SetCardOnFile(f.ctx, u.ID, "cus_pavel"))

	got, err := f.users.GetByID(f.ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.GatewayCustomerRef)
	assert.Equal(t, "cus_pavel", *got.GatewayCustomerRef)
}
