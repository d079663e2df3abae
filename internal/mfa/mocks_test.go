package mfa_test

import (
	"context"
	"reflect"

	"github.com/golang/mock/gomock"

	"github.com/defguard/defguard-core/internal/model"
)

// MockUserStore is a hand-maintained stand-in for mockgen's generated output against
// the mfa.UserStore interface (two methods don't warrant running the generator, but
// the pack's mocking library is still the right tool for the job).
type MockUserStore struct {
	ctrl     *gomock.Controller
	recorder *MockUserStoreMockRecorder
}

type MockUserStoreMockRecorder struct {
	mock *MockUserStore
}

func NewMockUserStore(ctrl *gomock.Controller) *MockUserStore {
	m := &MockUserStore{ctrl: ctrl}
	m.recorder = &MockUserStoreMockRecorder{m}

	return m
}

func (m *MockUserStore) EXPECT() *MockUserStoreMockRecorder {
	return m.recorder
}

func (m *MockUserStore) FindUserByID(ctx context.Context, id int64) (*model.User, error) {
	m.ctrl.T.Helper()

	ret := m.ctrl.Call(m, "FindUserByID", ctx, id)
	ret0, _ := ret[0].(*model.User)
	ret1, _ := ret[1].(error)

	return ret0, ret1
}

func (mr *MockUserStoreMockRecorder) FindUserByID(ctx, id interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "FindUserByID", reflect.TypeOf((*MockUserStore)(nil).FindUserByID), ctx, id)
}

func (m *MockUserStore) ConsumeRecoveryCode(ctx context.Context, userID int64, code string) (bool, error) {
	m.ctrl.T.Helper()

	ret := m.ctrl.Call(m, "ConsumeRecoveryCode", ctx, userID, code)
	ret0, _ := ret[0].(bool)
	ret1, _ := ret[1].(error)

	return ret0, ret1
}

func (mr *MockUserStoreMockRecorder) ConsumeRecoveryCode(ctx, userID, code interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ConsumeRecoveryCode", reflect.TypeOf((*MockUserStore)(nil).ConsumeRecoveryCode), ctx, userID, code)
}

// MockRegulator is a hand-maintained stand-in for mockgen's output against the
// mfa.Regulator interface.
type MockRegulator struct {
	ctrl     *gomock.Controller
	recorder *MockRegulatorMockRecorder
}

type MockRegulatorMockRecorder struct {
	mock *MockRegulator
}

func NewMockRegulator(ctrl *gomock.Controller) *MockRegulator {
	m := &MockRegulator{ctrl: ctrl}
	m.recorder = &MockRegulatorMockRecorder{m}

	return m
}

func (m *MockRegulator) EXPECT() *MockRegulatorMockRecorder {
	return m.recorder
}

func (m *MockRegulator) Check(ctx context.Context, userID int64) error {
	m.ctrl.T.Helper()

	ret := m.ctrl.Call(m, "Check", ctx, userID)
	ret0, _ := ret[0].(error)

	return ret0
}

func (mr *MockRegulatorMockRecorder) Check(ctx, userID interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Check", reflect.TypeOf((*MockRegulator)(nil).Check), ctx, userID)
}

func (m *MockRegulator) RecordFailure(ctx context.Context, userID int64) error {
	m.ctrl.T.Helper()

	ret := m.ctrl.Call(m, "RecordFailure", ctx, userID)
	ret0, _ := ret[0].(error)

	return ret0
}

func (mr *MockRegulatorMockRecorder) RecordFailure(ctx, userID interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "RecordFailure", reflect.TypeOf((*MockRegulator)(nil).RecordFailure), ctx, userID)
}

// MockNotifier is a hand-maintained stand-in for mockgen's output against the
// mfa.Notifier interface.
type MockNotifier struct {
	ctrl     *gomock.Controller
	recorder *MockNotifierMockRecorder
}

type MockNotifierMockRecorder struct {
	mock *MockNotifier
}

func NewMockNotifier(ctrl *gomock.Controller) *MockNotifier {
	m := &MockNotifier{ctrl: ctrl}
	m.recorder = &MockNotifierMockRecorder{m}

	return m
}

func (m *MockNotifier) EXPECT() *MockNotifierMockRecorder {
	return m.recorder
}

func (m *MockNotifier) NotifyEmailMFACode(ctx context.Context, userID int64, code string) error {
	m.ctrl.T.Helper()

	ret := m.ctrl.Call(m, "NotifyEmailMFACode", ctx, userID, code)
	ret0, _ := ret[0].(error)

	return ret0
}

func (mr *MockNotifierMockRecorder) NotifyEmailMFACode(ctx, userID, code interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "NotifyEmailMFACode", reflect.TypeOf((*MockNotifier)(nil).NotifyEmailMFACode), ctx, userID, code)
}
