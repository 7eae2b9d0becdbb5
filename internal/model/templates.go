package model

func defaultInitialPool() TemplatePool {
	return TemplatePool{
		Subjects: []string{
			"Application for Backend Developer Role",
			"Exploring Backend Opportunities",
			"Regarding Backend Engineer Position",
			"Interest in Backend Developer Openings",
			"Profile for Backend Developer",
		},
		Openings: []string{
			"I hope you're doing well.",
			"Hope you're having a great day.",
			"I hope everything is going well on your end.",
			"Hope this message finds you well.",
			"Hope you're having a productive week.",
		},
		Bodies: []string{
			"I'm reaching out to explore backend engineering opportunities within your organization or network. " +
				"I work on REST APIs, relational and document databases, caching and cloud deployments, " +
				"with a focus on scalable systems.\n\n" +
				"I understand you may not be hiring immediately, but I would appreciate the chance to connect " +
				"or be considered for future openings.\n\n" +
				"Thank you for your time. Happy to provide any additional information.",
		},
		Signatures: []string{
			"Best regards,",
			"Warm regards,",
			"Sincerely,",
			"Thank you,",
		},
	}
}

func defaultFollowupPool() TemplatePool {
	return TemplatePool{
		Subjects: []string{
			"Following up on my previous email",
			"Quick follow-up on my application",
			"Checking in regarding my earlier message",
			"Just circling back on my application",
		},
		Openings: []string{
			"Hope you're doing well.",
			"Hope your day is going great.",
			"Hope everything is going smoothly on your side.",
		},
		Bodies: []string{
			"I wanted to quickly follow up on my earlier message regarding backend developer opportunities. " +
				"I understand things can get busy, so I just wanted to check in and see if you had a chance to review it.",
			"Just following up on my previous email about backend roles. " +
				"I remain interested in opportunities involving API development and scalable backend systems.",
			"Reaching out again to follow up on my previous message. " +
				"If there's any update or next step you'd recommend, I'd appreciate hearing from you.",
		},
		Signatures: []string{
			"Best regards,",
			"Warm regards,",
			"Thanks and regards,",
		},
	}
}
