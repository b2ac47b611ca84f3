package workflow_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

var _ = Describe("Labels", func() {
	It("should label and number every state of every workflow", func() {
		for _, t := range workflow.Types {
			m := workflow.MustFor(t)
			for _, s := range m.States {
				name, ok := workflow.StepName(t, s)
				Expect(ok).To(BeTrue(), "%s/%s has no name", t, s)
				Expect(name).NotTo(BeEmpty())

				step, total, ok := workflow.StepIndex(t, s)
				Expect(ok).To(BeTrue(), "%s/%s has no index", t, s)
				Expect(step).To(BeNumerically("<=", total))
			}
		}
	})

	It("should number the manpower chain as four steps", func() {
		step, total, _ := workflow.StepIndex(workflow.Manpower, workflow.StatusPendingFinance)
		Expect(step).To(Equal(2))
		Expect(total).To(Equal(4))

		name, _ := workflow.StepName(workflow.Manpower, workflow.StatusPendingHR)
		Expect(name).To(Equal("HR Review"))
	})

	It("should not label states foreign to the workflow", func() {
		_, ok := workflow.StepName(workflow.Separation, workflow.StatusPendingCEO)
		Expect(ok).To(BeFalse())
		_, _, ok = workflow.StepIndex(workflow.BusinessTrip, workflow.StatusArchived)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Payload", func() {
	manpower := func() *workflow.ManpowerDetails {
		return &workflow.ManpowerDetails{
			PositionTitle:  "Backend Engineer",
			Department:     "ENGINEERING",
			Headcount:      2,
			EmploymentType: "PERMANENT",
			Budget:         workflow.Budget{Currency: "USD", MinMonthly: 500000, MaxMonthly: 700000},
		}
	}

	It("should accept a well formed matching variant", func() {
		p := workflow.Payload{Manpower: manpower()}
		Expect(p.ValidateFor(workflow.Manpower)).To(Succeed())
	})

	It("should reject a variant of another workflow", func() {
		p := workflow.Payload{Manpower: manpower()}
		err := p.ValidateFor(workflow.BusinessTrip)
		Expect(errors.HasCode(err, errors.ErrCodeValidation)).To(BeTrue())
	})

	It("should reject empty and ambiguous payloads", func() {
		_, err := workflow.Payload{}.Kind()
		Expect(err).To(HaveOccurred())

		_, err = workflow.Payload{Manpower: manpower(), Trip: &workflow.TripDetails{}}.Kind()
		Expect(err).To(HaveOccurred())
	})

	It("should report field validation failures", func() {
		bad := manpower()
		bad.Budget.MaxMonthly = 100
		err := workflow.Payload{Manpower: bad}.ValidateFor(workflow.Manpower)
		Expect(errors.HasCode(err, errors.ErrCodeValidation)).To(BeTrue())

		start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
		trip := &workflow.TripDetails{
			Destination:   "Dubai",
			Purpose:       "Vendor audit",
			StartDate:     start,
			EndDate:       start.AddDate(0, 0, -1),
			EstimatedCost: workflow.Money{Currency: "AED", Amount: 100},
		}
		err = workflow.Payload{Trip: trip}.ValidateFor(workflow.BusinessTrip)
		Expect(errors.HasCode(err, errors.ErrCodeValidation)).To(BeTrue())

		trip.EndDate = start.AddDate(0, 0, 3)
		Expect(workflow.Payload{Trip: trip}.ValidateFor(workflow.BusinessTrip)).To(Succeed())
	})
})
