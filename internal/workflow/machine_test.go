package workflow_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

var _ = Describe("Machine", func() {
	Describe("For", func() {
		It("should return a machine for every workflow type", func() {
			for _, t := range workflow.Types {
				m, err := workflow.For(t)
				Expect(err).To(BeNil())
				Expect(m.Type).To(Equal(t))
				Expect(m.Initial).To(Equal(workflow.StatusDraft))
			}
		})

		It("should reject unknown types", func() {
			_, err := workflow.For("LEAVE")
			Expect(err).NotTo(BeNil())
		})
	})

	Describe("manpower request", func() {
		var m *workflow.Machine

		BeforeEach(func() {
			m = workflow.MustFor(workflow.Manpower)
		})

		It("should walk the approval chain to completion", func() {
			path := []struct {
				from   workflow.Status
				action workflow.Action
				to     workflow.Status
			}{
				{workflow.StatusDraft, workflow.ActionSubmit, workflow.StatusPendingHR},
				{workflow.StatusPendingHR, workflow.ActionApprove, workflow.StatusPendingFinance},
				{workflow.StatusPendingFinance, workflow.ActionApprove, workflow.StatusPendingCEO},
				{workflow.StatusPendingCEO, workflow.ActionApprove, workflow.StatusApprovedOpen},
				{workflow.StatusApprovedOpen, workflow.ActionStartHiring, workflow.StatusHiringInProgress},
				{workflow.StatusHiringInProgress, workflow.ActionComplete, workflow.StatusCompleted},
			}
			for _, step := range path {
				tr, ok := m.Lookup(step.from, step.action)
				Expect(ok).To(BeTrue(), "%s/%s", step.from, step.action)
				Expect(tr.To).To(Equal(step.to))
			}
		})

		It("should allow reject, archive, request change and hold from every pending stage", func() {
			for _, from := range []workflow.Status{workflow.StatusPendingHR, workflow.StatusPendingFinance, workflow.StatusPendingCEO} {
				Expect(m.IsPending(from)).To(BeTrue())

				tr, ok := m.Lookup(from, workflow.ActionReject)
				Expect(ok).To(BeTrue())
				Expect(tr.To).To(Equal(workflow.StatusRejected))

				tr, ok = m.Lookup(from, workflow.ActionArchive)
				Expect(ok).To(BeTrue())
				Expect(tr.To).To(Equal(workflow.StatusArchived))

				tr, ok = m.Lookup(from, workflow.ActionRequestChange)
				Expect(ok).To(BeTrue())
				Expect(tr.To).To(Equal(workflow.StatusDraft))
				Expect(tr.BumpsRevision).To(BeTrue())

				tr, ok = m.Lookup(from, workflow.ActionHold)
				Expect(ok).To(BeTrue())
				Expect(tr.To).To(Equal(from))
				Expect(tr.Holds()).To(BeTrue())
			}
		})

		It("should block terminal states except the post-terminal exits", func() {
			for _, s := range []workflow.Status{workflow.StatusRejected, workflow.StatusArchived, workflow.StatusCancelled, workflow.StatusCompleted} {
				Expect(m.IsTerminal(s)).To(BeTrue())
				Expect(m.AvailableActions(s)).To(BeEmpty())
				for _, a := range workflow.Actions {
					_, ok := m.Lookup(s, a)
					Expect(ok).To(BeFalse(), "%s/%s", s, a)
				}
			}
			Expect(m.AvailableActions(workflow.StatusApprovedOpen)).To(Equal([]workflow.Action{workflow.ActionStartHiring}))
			Expect(m.AvailableActions(workflow.StatusHiringInProgress)).To(Equal([]workflow.Action{workflow.ActionComplete}))
		})

		It("should route pending stages to HR head, finance head and CEO", func() {
			req, ok := m.Stage(workflow.StatusPendingHR)
			Expect(ok).To(BeTrue())
			Expect(req.DepartmentHead).To(BeTrue())
			Expect(req.Department).To(Equal(workflow.DepartmentHR))

			req, ok = m.Stage(workflow.StatusPendingFinance)
			Expect(ok).To(BeTrue())
			Expect(req.Department).To(Equal(workflow.DepartmentFinance))

			req, ok = m.Stage(workflow.StatusPendingCEO)
			Expect(ok).To(BeTrue())
			Expect(req.DepartmentHead).To(BeFalse())
			Expect(req.Role).To(Equal(workflow.RoleCEO))

			_, ok = m.Stage(workflow.StatusDraft)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("business trip", func() {
		It("should route the first stage to the line manager and allow requester cancel", func() {
			m := workflow.MustFor(workflow.BusinessTrip)

			req, ok := m.Stage(workflow.StatusPendingManager)
			Expect(ok).To(BeTrue())
			Expect(req).To(Equal(workflow.StageRequirement{}))

			tr, ok := m.Lookup(workflow.StatusPendingHR, workflow.ActionCancel)
			Expect(ok).To(BeTrue())
			Expect(tr.Actor).To(Equal(workflow.ActorRequester))

			_, ok = m.Lookup(workflow.StatusPendingHR, workflow.ActionRequestChange)
			Expect(ok).To(BeFalse())

			tr, ok = m.Lookup(workflow.StatusApproved, workflow.ActionComplete)
			Expect(ok).To(BeTrue())
			Expect(tr.To).To(Equal(workflow.StatusCompleted))
		})
	})

	Describe("separation", func() {
		It("should gate completion on clearance", func() {
			m := workflow.MustFor(workflow.Separation)

			tr, ok := m.Lookup(workflow.StatusApproved, workflow.ActionComplete)
			Expect(ok).To(BeTrue())
			Expect(tr.RequiresClearance).To(BeTrue())
			Expect(tr.Actor).To(Equal(workflow.ActorOperator))

			_, ok = m.Lookup(workflow.StatusSubmitted, workflow.ActionArchive)
			Expect(ok).To(BeFalse())
			_, ok = m.Lookup(workflow.StatusRejected, workflow.ActionApprove)
			Expect(ok).To(BeFalse())
		})
	})

	It("should only reference states of its own workflow", func() {
		for _, t := range workflow.Types {
			m := workflow.MustFor(t)
			for _, tr := range m.Transitions {
				Expect(m.HasState(tr.From)).To(BeTrue(), "%s from %s", t, tr.From)
				Expect(m.HasState(tr.To)).To(BeTrue(), "%s to %s", t, tr.To)
				Expect(tr.Action.Valid()).To(BeTrue())
			}
		}
	})

	It("should require comments only for reject and request change", func() {
		for _, a := range workflow.Actions {
			want := a == workflow.ActionReject || a == workflow.ActionRequestChange
			Expect(a.RequiresComment()).To(Equal(want), string(a))
		}
	})
})
