package extraction

const classifyPrompt = `You triage photographed medical prescriptions.
Decide whether the prescription body is handwritten or printed/typed.
Reply with JSON only: {"isHandwritten": boolean, "text": string}
where text is a short transcription of what you can read.`

const extractPrompt = `You extract structured data from Brazilian compounding-pharmacy prescriptions.
Reply with JSON only, using exactly this shape:
{
  "patient": string | null,
  "doctor": string | null,
  "medications": {
    "<formula name>": {
      "raw_materials": [{"active": string, "dose": number | null, "unity": string}],
      "form": string,
      "type": string,
      "posology": string,
      "quantity": integer | null
    }
  }
}
Rules:
- One entry in "medications" per formula; each active ingredient of the formula is one raw material.
- "dose" is numeric only; put the unit (mg, mcg, g, ml, %, UI) in "unity".
- "form" is the pharmaceutical form (capsule, sachet, cream...), "type" the dosage type.
- "quantity" is the number of units to compound. When it is not written, compute it
  from the posology as doses per day x units per dose x treatment days; otherwise null.
- If the document is illegible, handwritten, or not a prescription, reply {"status": "human", "reason": string}.`

const imageUserPrompt = "Extract the prescription shown in this image."

const textUserPrompt = "Extract the prescription from the following document text:\n\n"
